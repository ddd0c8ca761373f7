package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unitybridge/unitybridge/internal/config"
	"github.com/unitybridge/unitybridge/internal/dependency"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show unitybridge status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	path := cfgPath
	if path == "" {
		path = config.ConfigPath()
	}

	fmt.Printf("unitybridge Status\n\n")

	_, statErr := os.Stat(path)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:  %s %s\n", path, cfgMark)

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Printf("Unity:   %s\n", cfg.Unity.Addr())
	fmt.Printf("Gateway: %s\n\n", cfg.Gateway.Addr())

	c, err := dependency.New(cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := c.Manager()
	if err := mgr.Connect(ctx); err != nil {
		fmt.Printf("Editor:  ✗ (%v)\n", err)
		return nil
	}
	defer mgr.Disconnect()
	fmt.Println("Editor:  ✓ connected")

	if !c.Registry().RegisterFromSchema(ctx) {
		fmt.Println("Schema:  ✗ (editor returned no usable schema)")
		return nil
	}

	tools := c.Registry().Tools()
	resources := c.Registry().Resources()
	fmt.Printf("Schema:  ✓ %d tool(s), %d resource(s)\n\n", len(tools), len(resources))

	if len(tools) > 0 {
		fmt.Println("Tools:")
		for _, t := range tools {
			fmt.Printf("  %-30s %s\n", t.Name, t.Description)
		}
	}
	if len(resources) > 0 {
		fmt.Println("Resources:")
		for _, r := range resources {
			fmt.Printf("  %-30s %s\n", r.Name, r.URI)
		}
	}
	return nil
}
