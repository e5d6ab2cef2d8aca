package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/deribit-rpc/internal/api"
)

func statusCmd(a *app) *cobra.Command {
	var index string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the REST endpoint is reachable",
		Long: `Calls public/test and public/get_time over HTTP and reports the API
version and clock skew. Pass --index to also fetch an index price.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runStatus(ctx, cmd, a.newREST(), index)
		},
	}

	cmd.Flags().StringVar(&index, "index", "", "index name to price, e.g. btc_usd")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, client *api.Client, index string) error {
	out := cmd.OutOrStdout()

	apiVersion, err := client.Test(ctx)
	if err != nil {
		return fmt.Errorf("public/test: %w", err)
	}

	sent := time.Now()
	serverTime, err := client.GetTime(ctx)
	if err != nil {
		return fmt.Errorf("public/get_time: %w", err)
	}
	rtt := time.Since(sent)
	skew := serverTime.Sub(sent.Add(rtt / 2))

	fmt.Fprintf(out, "api version: %s\n", apiVersion)
	fmt.Fprintf(out, "server time: %s\n", serverTime.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(out, "round trip:  %s\n", rtt.Round(time.Millisecond))
	fmt.Fprintf(out, "clock skew:  %s\n", skew.Round(time.Millisecond))

	if index != "" {
		price, err := client.GetIndexPrice(ctx, index)
		if err != nil {
			return fmt.Errorf("public/get_index_price: %w", err)
		}
		fmt.Fprintf(out, "index %s: %s\n", index, price.Price)
	}
	return nil
}
