package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createConvertCommand(),
		createTasksCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "piskel2houdini",
		Short: "Houdini cook dispatch service and raster conversion tool",
		Long: `piskel2houdini dispatches Houdini cook jobs to short-lived hython
workers and converts the resulting pixel exports to PNG rasters.

Examples:
  piskel2houdini serve config.toml
  piskel2houdini convert json2png --hip /proj/scene.hip --uuid room-17
  piskel2houdini convert png2json --input room-17.png --format metadata
  piskel2houdini tasks`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
