package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unitybridge/unitybridge/internal/config"
	"github.com/unitybridge/unitybridge/internal/dependency"
)

var serveVerbose bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge and its WebSocket gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Verbose logging")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(serveVerbose)

	c, err := dependency.New(cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	fmt.Printf("Starting unitybridge: Unity at %s, gateway on %s\n", cfg.Unity.Addr(), cfg.Gateway.Addr())

	// Re-register capabilities after every (re)connect; tools registered
	// earlier stay registered (registration is append-only).
	mgr, reg := c.Manager(), c.Registry()
	mgr.OnConnected(func() error {
		if !reg.RegisterFromSchema(context.Background()) {
			return fmt.Errorf("schema registration failed")
		}
		return nil
	})

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Gateway().Run(gctx) })
	g.Go(func() error { return c.Refresh().Start(gctx) })
	g.Go(func() error {
		// The initial connect is best-effort: the gateway keeps serving
		// and the supervisor reconnects when the editor appears.
		if err := mgr.Connect(gctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: initial connect failed: %v\n", err)
		}
		return nil
	})

	fmt.Println("Bridge running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "bridge error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
