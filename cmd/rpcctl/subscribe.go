package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/deribit-rpc/internal/notify"
)

func subscribeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "subscribe <channel>...",
		Short: "Stream notifications for channels until interrupted",
		Example: `  rpcctl subscribe ticker.BTC-PERPETUAL.100ms
  rpcctl subscribe deribit_price_index.btc_usd trades.ETH-PERPETUAL.raw --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := a.newClient(notify.NewBus(a.logger), nil)
			if err != nil {
				return err
			}
			defer client.Close()

			p := &printer{w: cmd.OutOrStdout(), json: asJSON}
			confirmed, err := client.Subscribe(ctx, args, p.print)
			if err != nil {
				return err
			}
			if len(confirmed) < len(args) {
				a.logger.Warn("not every channel was confirmed",
					"requested", len(args),
					"confirmed", len(confirmed),
				)
			}
			a.logger.Info("subscribed", "channels", confirmed)

			<-ctx.Done()

			unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer unsubCancel()
			if err := client.Unsubscribe(unsubCtx, args); err != nil {
				a.logger.Warn("unsubscribe failed", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per notification")
	return cmd
}

// printer writes notifications as they arrive. The observer runs on the
// client's reader goroutine, so writes are serialized here.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

type printedNotification struct {
	ReceivedAt time.Time       `json:"received_at"`
	Channel    string          `json:"channel"`
	Kind       notify.Kind     `json:"kind"`
	Data       json.RawMessage `json:"data"`
}

func (p *printer) print(n notify.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		line, err := json.Marshal(printedNotification{
			ReceivedAt: n.ReceivedAt,
			Channel:    n.Channel,
			Kind:       n.Kind,
			Data:       n.Data,
		})
		if err != nil {
			return
		}
		fmt.Fprintln(p.w, string(line))
		return
	}
	fmt.Fprintf(p.w, "%s %-12s %s %s\n",
		n.ReceivedAt.Format("15:04:05.000"), n.Kind, n.Channel, n.Data)
}
