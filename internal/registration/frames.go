package registration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FrameSource yields raw frames one at a time. Next returns io.EOF when the
// source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// SliceFrames serves frames from memory, e.g. an uploaded batch.
type SliceFrames struct {
	frames [][]byte
	pos    int
}

// NewSliceFrames wraps frames as a FrameSource.
func NewSliceFrames(frames [][]byte) *SliceFrames {
	return &SliceFrames{frames: frames}
}

func (s *SliceFrames) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(name)))
}

// DirFrames reads the image files of a directory in name order.
type DirFrames struct {
	paths []string
	pos   int
}

// NewDirFrames lists the images in dir. Subdirectories are ignored.
func NewDirFrames(dir string) (*DirFrames, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return &DirFrames{paths: paths}, nil
}

// Len returns the number of frames in the directory.
func (d *DirFrames) Len() int {
	return len(d.paths)
}

func (d *DirFrames) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.pos >= len(d.paths) {
		return nil, io.EOF
	}
	path := d.paths[d.pos]
	d.pos++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
