// Package cli is the cobra command tree for blkcaptwrk: read-only
// inspection of the configuration tree (pool/dataset/container/sync/
// observer) plus the service subcommand that starts the daemon itself.
package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "blkcaptwrk",
	Short: "Block-capture daemon: snapshot lifecycle and replication for CoW filesystem pools",
}

// Execute runs the command tree, wiring SIGINT/SIGTERM into the context
// every subcommand receives.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		klog.Info("received shutdown signal")
		cancel()
	}()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", model.ConfigDir(), "directory holding entities.yaml")

	rootCmd.AddCommand(poolCmd, datasetCmd, containerCmd, syncCmd, observerCmd, serviceCmd)
}

func loadEntities() (*model.Entities, error) {
	return model.Load(configDir)
}
