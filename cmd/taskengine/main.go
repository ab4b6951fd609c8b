// Command taskengine is a reference runner exercising the engine directly
// from a task definition file (spec §6): `run <task-json>`.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/compozy/taskengine/pkg/logger"
)

func main() {
	log := logger.NewLogger(logger.DefaultConfig())
	root := rootCmd(log)
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func rootCmd(log logger.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskengine",
		Short: "Reference runner for the hierarchical task execution engine",
	}
	root.AddCommand(runCmd(log))
	return root
}
