package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/heritage-guide/internal/health"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe the gRPC health endpoint of a running server",
	Long: `Probe the gRPC health endpoint and exit non-zero unless it reports SERVING.
Intended for container health checks.`,
	RunE: runHealthcheck,
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().String("addr", "localhost:9090", "Health server address")
	healthcheckCmd.Flags().Duration("timeout", 3*time.Second, "Probe timeout")
}

func runHealthcheck(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	status, err := health.Probe(ctx, addr)
	if err != nil {
		return err
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server reported %s", status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), status.String())
	return nil
}
