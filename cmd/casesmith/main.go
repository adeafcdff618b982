// Package main implements the casesmith CLI, which turns requirement
// documents into reviewed test cases.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "casesmith",
		Short: "Generate reviewed test cases from requirement documents",
		Long: `casesmith drives a team of LLM roles over a requirements document:
an analyst extracts requirements, a designer plans test scenarios, writers
draft test cases in parallel and a reviewer accepts, rewrites or rejects
them. Reviewed cases are exported to a spreadsheet or JSON file that follows
the selected test case template.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/casesmith/config.yaml)")

	root.AddCommand(newGenerateCmd(opts))
	root.AddCommand(newTemplatesCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "casesmith by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
