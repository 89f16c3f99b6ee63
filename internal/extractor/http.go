package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/retry"
)

const defaultEmbeddingURL = "http://localhost:8000"

// HTTPExtractor computes face embeddings using the embedding server
type HTTPExtractor struct {
	baseURL string
	dim     int
	client  *http.Client
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an HTTPExtractor.
type Option func(*HTTPExtractor)

func WithHTTPClient(client *http.Client) Option {
	return func(e *HTTPExtractor) { e.client = client }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *HTTPExtractor) { e.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *HTTPExtractor) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *HTTPExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewHTTP creates an extractor for the embedding server at baseURL
func NewHTTP(baseURL string, dim int, opts ...Option) *HTTPExtractor {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	e := &HTTPExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{},
		policy:  retry.DefaultPolicy,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the backend name.
func (e *HTTPExtractor) Name() string {
	return BackendHTTP
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// statusError is a non-200 reply from the embedding server.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

// Extract downsizes the frame, sends it to /embed/face and returns one
// detection per face, with boxes mapped back to the original frame.
func (e *HTTPExtractor) Extract(ctx context.Context, frame []byte) ([]Detection, error) {
	if len(frame) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "empty frame")
	}

	start := time.Now()
	defer func() { e.metrics.ObserveExtractLatency(BackendHTTP, time.Since(start)) }()

	data, scale, err := ResizeFrame(frame, constants.MaxImageSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "frame is not a decodable image")
	}

	var resp faceResponse
	err = retry.Do(ctx, e.policy, func(ctx context.Context) error {
		body, err := e.postMultipartImage(ctx, "/embed/face", data)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.status < http.StatusInternalServerError {
				return retry.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	}, func(err error, wait time.Duration) {
		e.logger.Warn("embedding request failed, retrying", "wait", wait, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("extracting faces: %w", err)
	}

	detections := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) != e.dim {
			return nil, apperrors.Newf(apperrors.CodeDimensionMismatch,
				"embedding server returned %d dimensions, expected %d", len(f.Embedding), e.dim)
		}
		detections = append(detections, Detection{
			Vector: facematch.Vector(f.Embedding),
			BBox:   facematch.ScaleBox(f.BBox, scale),
			Score:  f.DetScore,
		})
	}
	return Dedupe(detections, constants.DuplicateDetectionIoU), nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (e *HTTPExtractor) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
