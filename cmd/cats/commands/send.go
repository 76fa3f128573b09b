package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/segment"
	"github.com/quantarax/cats/internal/transport"
	"github.com/quantarax/cats/internal/validation"
)

type sendOptions struct {
	rounds      int
	lowPerRound int
	appGap      time.Duration
	linger      time.Duration
	loss        float64
	dup         float64
	seed        int64
	messages    []string
	extra       []message
}

var sendOpts sendOptions

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run the demo sending application",
	Long: `Run the demo workload: each round queues a burst of LOW priority
messages followed by one HIGH priority message, then lingers so ACKs and
retransmissions can complete.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := errors.Join(
			validation.Probability("loss", sendOpts.loss),
			validation.Probability("dup", sendOpts.dup),
			validation.RangeInt("rounds", sendOpts.rounds, 0, 1_000_000),
			validation.RangeInt("low-per-round", sendOpts.lowPerRound, 0, 1_000_000),
		); err != nil {
			return err
		}
		extra, err := parseMessages(sendOpts.messages)
		if err != nil {
			return err
		}
		sendOpts.extra = extra

		ctx, span := observability.Tracer().Start(cmd.Context(), "cats.send")
		defer span.End()

		rt, err := newServices(ctx, transport.RoleSender)
		if err != nil {
			return err
		}
		defer rt.Close()

		ep, err := openSenderEndpoint(ctx)
		if err != nil {
			return err
		}
		if sendOpts.loss > 0 || sendOpts.dup > 0 {
			rt.logger.Warn(fmt.Sprintf("outbound impairment enabled: loss=%v dup=%v", sendOpts.loss, sendOpts.dup))
			ep = transport.NewLossyEndpoint(ep, transport.LossConfig{
				DropRate: sendOpts.loss,
				DupRate:  sendOpts.dup,
				Seed:     sendOpts.seed,
			})
		}

		s, err := transport.NewSender(cfg.Transport, ep,
			transport.WithSenderLogger(rt.logger),
			transport.WithSenderMetrics(rt.metrics),
			transport.WithSenderEvents(rt.events),
		)
		if err != nil {
			ep.Close()
			return err
		}
		rt.health.RegisterCheck("window", observability.WindowCheck(s.Window))
		rt.health.RegisterCheck("sender", observability.EndpointCheck(ep.LocalAddr().String(), s.Running))
		rt.serve()

		out := cmd.OutOrStdout()
		s.Start()
		fmt.Fprintln(out, "Application Sender starting...")

		err = runWorkload(ctx, out, s, sendOpts, 2*cfg.Transport.PacingInterval())
		if err == nil {
			fmt.Fprintln(out, "Application Sender: All initial data queued. Waiting for a bit...")
			waitIdle(ctx, s, sendOpts.linger, cfg.Transport.PollInterval)
		}

		fmt.Fprintln(out, "Application Sender stopping transport...")
		if stopErr := s.Stop(); stopErr != nil {
			rt.logger.Error(stopErr, "sender stop")
		}
		st := s.Snapshot()
		fmt.Fprintf(out, "Application Sender finished: %d acked, %d retransmitted, %d given up, %d still in flight.\n",
			st.Acked, st.Retransmitted, st.GivenUp, st.InFlight)
		rt.summary(context.Background(), out)

		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	f := sendCmd.Flags()
	f.IntVar(&sendOpts.rounds, "rounds", 10, "number of workload rounds")
	f.IntVar(&sendOpts.lowPerRound, "low-per-round", 3, "LOW priority messages per round")
	f.DurationVar(&sendOpts.appGap, "app-gap", 20*time.Millisecond, "minimum gap between application submissions")
	f.DurationVar(&sendOpts.linger, "linger", 5*time.Second, "maximum time to wait for outstanding segments")
	f.Float64Var(&sendOpts.loss, "loss", 0, "probability of dropping an outbound datagram")
	f.Float64Var(&sendOpts.dup, "dup", 0, "probability of duplicating an outbound datagram")
	f.Int64Var(&sendOpts.seed, "seed", 1, "random seed for --loss and --dup")
	f.StringArrayVar(&sendOpts.messages, "message", nil, "extra message queued before the rounds, as priority:text (repeatable)")
}

type message struct {
	payload []byte
	prio    segment.Priority
}

// workload returns one round of the demo traffic. counter numbers the LOW
// messages across rounds.
func workload(round, lowPerRound int, counter *int) []message {
	msgs := make([]message, 0, lowPerRound+1)
	for j := 0; j < lowPerRound; j++ {
		msgs = append(msgs, message{
			payload: []byte(fmt.Sprintf("LOW_PRIO_DATA_CHUNK_%d", *counter)),
			prio:    segment.PriorityLow,
		})
		*counter++
	}
	return append(msgs, message{
		payload: []byte(fmt.Sprintf("HIGH_PRIO_IMPORTANT_MESSAGE_%d", round)),
		prio:    segment.PriorityHigh,
	})
}

// parseMessages turns "priority:text" flag values into messages.
func parseMessages(specs []string) ([]message, error) {
	msgs := make([]message, 0, len(specs))
	for _, spec := range specs {
		name, text, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("message %q: expected priority:text", spec)
		}
		prio, err := segment.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", spec, err)
		}
		msgs = append(msgs, message{payload: []byte(text), prio: prio})
	}
	return msgs, nil
}

type enqueuer interface {
	Enqueue(payload []byte, prio segment.Priority) []uint64
}

// runWorkload submits opts.extra and then every round, spacing submissions
// with a rate limiter and pausing roundGap between rounds.
func runWorkload(ctx context.Context, out io.Writer, s enqueuer, opts sendOptions, roundGap time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(opts.appGap), 1)
	submit := func(msgs []message) error {
		for _, m := range msgs {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			label := "low"
			if m.prio == segment.PriorityHigh {
				label = "HIGH"
			}
			fmt.Fprintf(out, "[App Sender] Sending %s priority: %s\n", label, m.payload)
			s.Enqueue(m.payload, m.prio)
		}
		return nil
	}

	if err := submit(opts.extra); err != nil {
		return err
	}
	counter := 0
	for i := 0; i < opts.rounds; i++ {
		if err := submit(workload(i, opts.lowPerRound, &counter)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(roundGap):
		}
	}
	return nil
}

// waitIdle returns once s has nothing queued or in flight, after linger, or
// on cancellation, whichever comes first.
func waitIdle(ctx context.Context, s *transport.Sender, linger, poll time.Duration) {
	deadline := time.NewTimer(linger)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for !s.Idle() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}
