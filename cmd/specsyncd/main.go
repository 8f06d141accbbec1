// Command specsyncd is the server-side half of the operation-queue
// coordinator: it hosts a SyncService against a workspace directory,
// processes queued operations against the local spec store, and
// optionally exposes the read-only observer API. The editor-side half is
// expected to be an IDE extension writing to the same three state files
// directly through the same protocol, per spec.md §1.
//
// Grounded on cmd/node/main.go's cobra root-command wiring: a single
// rootCmd, a --config persistent flag, and subcommands that each load
// internal/config.Load(cfgFile) before doing their work.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "specsyncd",
		Short:   "Operation-queue coordinator for spec-file synchronization",
		Version: version,
		Long: `specsyncd coordinates a file-backed operation queue between an editor
extension and a server-side worker, detecting and resolving conflicts
between concurrent edits to the same specification.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./specsync.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(cleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

var version = "dev"
