package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/sagelywizard/blkcaptwrk/pkg/actors"
	"github.com/sagelywizard/blkcaptwrk/pkg/fsgateway"
)

var metricsAddr string

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the block-capture daemon: load config, attach the filesystem, and run the supervised actor graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "metrics server stopped")
			}
		}()

		root, err := actors.Start(ctx, fsgateway.NewBtrfsGateway(), configDir)
		if err != nil {
			return fmt.Errorf("start actor graph: %w", err)
		}

		<-ctx.Done()
		klog.Info("shutting down")
		_ = metricsSrv.Close()
		if !root.Supervisor.Shutdown(30 * time.Second) {
			return fmt.Errorf("actor graph did not shut down within timeout")
		}
		return nil
	},
}

func init() {
	serviceCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
}
