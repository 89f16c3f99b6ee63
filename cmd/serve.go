package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/session"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the attendance HTTP API.

Besides the API this runs the session reaper, the audit writer and the
descriptor cache invalidation listener. With NATS_URL set, change
notifications travel over NATS so several instances share one view.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	sub, err := a.subscriber()
	if err != nil {
		return err
	}
	if sub != a.hub {
		defer sub.Close()
	}

	server := web.NewServer(a.cfg.Web, a.svc,
		web.WithSubscriber(sub),
		web.WithGatherer(a.registry),
		web.WithLogger(a.logger.With("component", "http")),
	)
	reaper := session.NewReaper(a.svc.Sessions(), a.cfg.Session.ReapInterval, a.logger.With("component", "reaper"))

	fmt.Printf("Starting attendance API on http://%s (backend: %s)\n", server.Addr(), a.backend.Name)
	fmt.Println("Press Ctrl+C to stop")

	// The first failure stops everything else through gctx.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.svc.Descriptors().Watch(gctx, sub); err != nil {
			a.logger.Error("descriptor cache invalidation stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Println("\nShut down")
	}
	return err
}
