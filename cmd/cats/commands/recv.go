package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/segment"
	"github.com/quantarax/cats/internal/transport"
)

var readyFile string

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Run the receiving application and print every delivered segment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := observability.Tracer().Start(cmd.Context(), "cats.recv")
		defer span.End()

		rt, err := newServices(ctx, transport.RoleReceiver)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		defer removeReadyFile(readyFile)
		ep, err := openReceiverEndpoint(ctx, func() error {
			fmt.Fprintln(out, "Application Receiver running. Press Ctrl+C to stop.")
			rt.logger.Info("receiver listening on " + cfg.Network.ReceiverAddr)
			return writeReadyFile(readyFile)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		r := transport.NewReceiver(ep,
			transport.WithReceiverLogger(rt.logger),
			transport.WithReceiverMetrics(rt.metrics),
			transport.WithReceiverEvents(rt.events),
		)
		rt.health.RegisterCheck("receiver", observability.EndpointCheck(ep.LocalAddr().String(), r.Running))
		rt.serve()

		r.Start(func(payload []byte, prio segment.Priority, seq uint64) {
			printDelivery(out, time.Now(), payload, prio, seq)
		})

		<-ctx.Done()
		fmt.Fprintln(out, "Application Receiver stopping transport...")
		if err := r.Stop(); err != nil {
			rt.logger.Error(err, "receiver stop")
		}
		stats := r.Stats()
		fmt.Fprintf(out, "Application Receiver finished: %d delivered, %d duplicates, %d acks sent.\n",
			r.Delivered(), stats.Duplicates, stats.AcksSent)
		rt.summary(context.Background(), out)
		return nil
	},
}

func init() {
	recvCmd.Flags().StringVar(&readyFile, "ready-file", "", "create this file once the receiver is listening")
}

// printDelivery writes one delivery line. Payload bytes are shown one rune
// per byte so arbitrary binary stays printable.
func printDelivery(w io.Writer, at time.Time, payload []byte, prio segment.Priority, seq uint64) {
	runes := make([]rune, len(payload))
	for i, b := range payload {
		runes[i] = rune(b)
	}
	fmt.Fprintf(w, "[%s] [App Receiver] <<<< PRIO:%s (Seq:%d) -- Data: %s\n",
		at.Format("15:04:05.000"), prio, seq, string(runes))
}

func writeReadyFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

func removeReadyFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
