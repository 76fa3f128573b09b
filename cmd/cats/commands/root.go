// Package commands implements the cats command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quantarax/cats/internal/config"
)

const version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cats",
	Short:         "Congestion-aware transport with strict priorities over UDP",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cfgFile, cmd.Root().PersistentFlags())
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// flagKeys maps persistent flags onto config keys. A flag only wins over the
// file and environment when it was set explicitly.
var flagKeys = map[string]string{
	"mode":          "network.mode",
	"receiver-addr": "network.receiver_addr",
	"sender-addr":   "network.sender_addr",
	"ack-addr":      "network.ack_addr",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"log-prefix":    "log.prefix",
	"csv-dir":       "log.csv_dir",
	"event-db":      "log.event_db",
	"metrics-addr":  "observability.metrics_addr",
}

func init() {
	def := config.DefaultConfig()
	f := rootCmd.PersistentFlags()
	f.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	f.String("mode", def.Network.Mode, "datagram network: udp or quic")
	f.String("receiver-addr", def.Network.ReceiverAddr, "receiver data address")
	f.String("sender-addr", def.Network.SenderAddr, "sender bind address (udp)")
	f.String("ack-addr", def.Network.AckAddr, "address the receiver sends ACKs to (udp)")
	f.String("log-level", def.Log.Level, "log level: debug, info, warn, error")
	f.String("log-file", def.Log.File, "write logs to a rotated file instead of stdout")
	f.String("log-prefix", def.Log.Prefix, "CSV event log file prefix")
	f.String("csv-dir", def.Log.CSVDir, "directory for CSV event logs, empty disables them")
	f.String("event-db", def.Log.EventDB, "SQLite file for events, empty disables it")
	f.String("metrics-addr", def.Observability.MetricsAddr, "serve /metrics and /health on this address")

	rootCmd.AddCommand(recvCmd, sendCmd, simCmd)
}

func loadConfig(path string, flags *pflag.FlagSet) (*config.Config, error) {
	v := config.New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
