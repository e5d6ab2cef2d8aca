package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func callCmd(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send one request over the WebSocket session and print the result",
		Example: `  rpcctl call public/get_time
  rpcctl call public/get_index_price '{"index_name":"btc_usd"}'
  rpcctl call private/get_account_summary '{"currency":"BTC"}' -c rpcctl.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				parsed, err := parseParams(args[1])
				if err != nil {
					return err
				}
				params = parsed
			}

			client, err := a.newClient(nil, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, a.cfg.Connection.StartupTimeout+a.cfg.Connection.RequestTimeout)
			defer cancelTimeout()

			result, err := client.Call(ctx, args[0], params)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return printResult(cmd.OutOrStdout(), result, raw)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the result without indentation")
	return cmd
}

func parseParams(s string) (map[string]any, error) {
	var params map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}
	return params, nil
}

func printResult(w io.Writer, result json.RawMessage, raw bool) error {
	if raw || len(result) == 0 {
		_, err := fmt.Fprintln(w, string(result))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
