package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type simOptions struct {
	readyFile    string
	readyTimeout time.Duration
	linger       time.Duration
}

var simOpts simOptions

var simCmd = &cobra.Command{
	Use:   "sim [-- send flags]",
	Short: "Launch a receiver and a sender as child processes on this host",
	Long: `Launch "cats recv" in the background, wait until it signals readiness
through a sentinel file, run "cats send" to completion, then stop the
receiver. Arguments after -- are passed to the sender.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
		return runSimulation(cmd.Context(), cmd.OutOrStdout(), exe, inheritedArgs(), args, simOpts)
	},
}

func init() {
	f := simCmd.Flags()
	f.StringVar(&simOpts.readyFile, "ready-file", ".receiver_ready", "sentinel file the receiver creates when listening")
	f.DurationVar(&simOpts.readyTimeout, "ready-timeout", 30*time.Second, "how long to wait for the receiver")
	f.DurationVar(&simOpts.linger, "linger", 2*time.Second, "time to keep the receiver up after the sender exits")
}

// inheritedArgs forwards explicitly set persistent flags to the children.
func inheritedArgs() []string {
	var out []string
	f := rootCmd.PersistentFlags()
	if cfgFile != "" {
		out = append(out, "--config", cfgFile)
	}
	for name := range flagKeys {
		if fl := f.Lookup(name); fl != nil && fl.Changed {
			out = append(out, "--"+name, fl.Value.String())
		}
	}
	return out
}

func runSimulation(ctx context.Context, out io.Writer, exe string, common, sendArgs []string, opts simOptions) error {
	if err := os.Remove(opts.readyFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale ready file: %w", err)
	}
	defer os.Remove(opts.readyFile)

	recvArgs := append([]string{"recv", "--ready-file", opts.readyFile}, common...)
	receiver := exec.Command(exe, recvArgs...)
	receiver.Stdout, receiver.Stderr = out, out
	fmt.Fprintln(out, "Launcher: starting receiver...")
	if err := receiver.Start(); err != nil {
		return fmt.Errorf("failed to start receiver: %w", err)
	}
	defer terminate(receiver, 5*time.Second)

	if err := waitForFile(ctx, opts.readyFile, opts.readyTimeout, 500*time.Millisecond); err != nil {
		return fmt.Errorf("receiver did not become ready: %w", err)
	}
	fmt.Fprintln(out, "Launcher: receiver ready, starting sender...")

	sender := exec.CommandContext(ctx, exe, append(append([]string{"send"}, common...), sendArgs...)...)
	sender.Stdout, sender.Stderr = out, out
	sender.Cancel = func() error { return sender.Process.Signal(syscall.SIGTERM) }
	sender.WaitDelay = 5 * time.Second
	if err := sender.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sender failed: %w", err)
	}

	fmt.Fprintln(out, "Launcher: sender finished, letting the receiver drain...")
	select {
	case <-ctx.Done():
	case <-time.After(opts.linger):
	}
	fmt.Fprintln(out, "Launcher: simulation finished.")
	return nil
}

func waitForFile(ctx context.Context, path string, timeout, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// terminate asks p to exit and kills it after grace.
func terminate(p *exec.Cmd, grace time.Duration) {
	if p.Process == nil {
		return
	}
	_ = p.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = p.Process.Kill()
		<-done
	}
}
