package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/registration"
	"github.com/kozaktomas/face-attendance/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Mark attendance from a directory of camera frames",
	Long: `Run the kiosk loop over the images in --dir (in name order): find the
faces in each frame, identify them against the session's group and mark
everyone who matched. An identity marked recently is not re-marked within
SCAN_COOLDOWN; with REDIS_URL set the cooldown is shared by all scanners.

Examples:
  attendance scan --session 6f1c... --dir ./captures/room-101`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireDatabase()
	},
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("session", "", "Session to mark attendance in")
	scanCmd.Flags().String("dir", "", "Directory of frames")
	scanCmd.Flags().String("source", constants.SourceCamera, "Source recorded on marks")
	scanCmd.MarkFlagRequired("session")
	scanCmd.MarkFlagRequired("dir")
}

func runScan(cmd *cobra.Command, args []string) error {
	frames, err := registration.NewDirFrames(mustGetString(cmd, "dir"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var cooldown scan.Cooldown = scan.NewMemoryCooldown()
	client, err := scan.DialRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
		cooldown = scan.NewRedisCooldown(client, constants.CooldownKeyPrefix)
		fmt.Println("Using Redis cooldown")
	}

	loop := scan.NewLoop(a.svc, a.svc.Extractor(),
		scan.WithCooldown(cooldown, a.cfg.Scan.Cooldown),
		scan.WithSource(mustGetString(cmd, "source")),
		scan.WithLogger(a.logger.With("component", "scan")),
	)

	fmt.Printf("Scanning %d frames...\n", frames.Len())
	stats, runErr := loop.Run(ctx, mustGetString(cmd, "session"), frames)

	fmt.Printf("Frames:     %d\n", stats.Frames)
	fmt.Printf("Faces:      %d (matched %d, unknown %d)\n", stats.Faces, stats.Matched, stats.Unmatched)
	fmt.Printf("Marked:     %d\n", stats.Marked)
	fmt.Printf("Duplicates: %d\n", stats.Duplicates)
	fmt.Printf("Suppressed: %d\n", stats.Suppressed)

	if apperrors.HasCode(runErr, apperrors.CodeSessionInactive) {
		fmt.Println("Session is no longer active, stopped early")
		return nil
	}
	return runErr
}
