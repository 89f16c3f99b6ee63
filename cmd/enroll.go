package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/registration"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register identities from a directory of face photos",
	Long: `Register every identity found under --dir. Each subdirectory is one
identity: its name is the identity ID and its images are the frames the
capture samples from. Re-enrolling an identity replaces its descriptors.

Examples:
  # Enroll a class, 5 samples per student
  attendance enroll --dir ./photos/cse-a --group CSE-A

  # More samples, fewer parallel extractor calls
  attendance enroll --dir ./photos/cse-a --group CSE-A --samples 8 --concurrency 2`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory with one subdirectory per identity")
	enrollCmd.Flags().String("group", "", "Group the identities belong to")
	enrollCmd.Flags().Int("samples", 0, "Descriptors to capture per identity (0 = REGISTRATION_SAMPLES)")
	enrollCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of identities enrolled in parallel")
	enrollCmd.MarkFlagRequired("dir")
	enrollCmd.MarkFlagRequired("group")
}

// enrollOutcome is the per-identity result line printed after the run.
type enrollOutcome struct {
	identity string
	samples  int
	partial  bool
	err      error
}

// identityDirs returns the subdirectories of dir, sorted.
func identityDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	group := mustGetString(cmd, "group")
	samples := mustGetInt(cmd, "samples")
	concurrency, err := positiveInt(cmd, "concurrency")
	if err != nil {
		return err
	}

	names, err := identityDirs(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no identity directories found in %s", dir)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Enrolling %d identities into %s (extractor: %s)\n", len(names), group, a.svc.Extractor().Name())

	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var mu sync.Mutex
	outcomes := make([]enrollOutcome, 0, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range names {
		g.Go(func() error {
			defer bar.Add(1)
			out := enrollOutcome{identity: name}

			frames, err := registration.NewDirFrames(filepath.Join(dir, name))
			if err == nil {
				var res *registration.Result
				res, err = a.svc.RegisterIdentity(gctx, name, group, frames, samples)
				if err == nil {
					out.samples = res.Samples
					out.partial = res.Partial()
				}
			}
			out.err = err

			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()

			// Validation failures (no usable face) are reported, not fatal.
			if err != nil && !apperrors.HasCode(err, apperrors.CodeValidation) {
				return fmt.Errorf("enrolling %s: %w", name, err)
			}
			return nil
		})
	}
	runErr := g.Wait()
	fmt.Println()

	slices.SortFunc(outcomes, func(x, y enrollOutcome) int {
		return strings.Compare(x.identity, y.identity)
	})

	var enrolled, partial, failed int
	for _, out := range outcomes {
		switch {
		case out.err != nil:
			failed++
			fmt.Printf("  FAIL %-20s %v\n", out.identity, out.err)
		case out.partial:
			partial++
			fmt.Printf("  WARN %-20s only %d samples\n", out.identity, out.samples)
		default:
			enrolled++
		}
	}
	fmt.Printf("\nEnrolled: %d, partial: %d, failed: %d\n", enrolled+partial, partial, failed)
	return runErr
}
