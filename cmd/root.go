// Package cmd implements the unitybridge CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "unitybridge",
	Short: "unitybridge — Unity editor tool bridge",
	Long:  "unitybridge bridges AI tool callers to a Unity editor process over TCP,\ndiscovering the editor's tools and resources at connect time.",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file path (default ~/.unitybridge/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}
