// Package operator implements feederctl, the operator tool for pushing
// settings to a feeder, watching its telemetry and reading its history.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/iotreat/internal/adapters/mq/mqtt"
	"github.com/okian/iotreat/pkg/logger"
)

// Transport is the MQTT side of the tool.
type Transport interface {
	Publisher
	Subscriber
	Disconnect()
}

// Dialer opens a connected Transport for cfg.
type Dialer func(ctx context.Context, cfg Config) (Transport, error)

// DialMQTT connects an MQTT client to cfg.Broker.
func DialMQTT(ctx context.Context, cfg Config) (Transport, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	c, err := mqtt.New(cfg.Broker,
		mqtt.WithClientID(cfg.ClientID),
		mqtt.WithTLSFiles(cfg.CAFile, cfg.CertFile, cfg.KeyFile),
		mqtt.WithQoS(byte(cfg.QoS)), //nolint:gosec // flag is checked to 0..2
		mqtt.WithTelemetryTopic(cfg.TelemetryTopic),
		mqtt.WithConnectTimeout(cfg.Timeout),
		mqtt.WithPublishTimeout(cfg.Timeout),
		mqtt.WithLogger(logger.Get().Named("mqtt")),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Disconnect()
		return nil, err
	}
	return c, nil
}

// Execute runs feederctl with os.Args and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand(os.Stdout, DialMQTT).ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Command output goes to out.
func NewRootCommand(out io.Writer, dial Dialer) *cobra.Command {
	cfg := DefaultConfig()
	var verbose bool

	root := &cobra.Command{
		Use:   "feederctl",
		Short: "Operate an iotreat pet feeder.",
		Long: `feederctl pushes per-species settings to a feeder over MQTT or its ` +
			`local HTTP API, follows its telemetry and prints its feeding history.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return err
			}
			if verbose {
				_ = logger.SetLevelString("debug")
			}
			if cfg.QoS < 0 || cfg.QoS > 2 {
				return fmt.Errorf("--qos must be 0, 1 or 2, got %d", cfg.QoS)
			}
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.Broker, "broker", os.Getenv("IOTREAT_MQTT__BROKER"), "MQTT broker URL; empty sends settings over HTTP")
	pf.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "MQTT client id, distinct from the device's")
	pf.StringVar(&cfg.CAFile, "ca-file", os.Getenv("IOTREAT_MQTT__CA_FILE"), "CA bundle for TLS brokers")
	pf.StringVar(&cfg.CertFile, "cert-file", os.Getenv("IOTREAT_MQTT__CERT_FILE"), "client certificate")
	pf.StringVar(&cfg.KeyFile, "key-file", os.Getenv("IOTREAT_MQTT__KEY_FILE"), "client key")
	pf.StringVar(&cfg.SettingsTopic, "settings-topic", cfg.SettingsTopic, "settings topic")
	pf.StringVar(&cfg.TelemetryTopic, "telemetry-topic", cfg.TelemetryTopic, "telemetry topic")
	pf.IntVar(&cfg.QoS, "qos", cfg.QoS, "MQTT quality of service")
	pf.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "device HTTP API base URL")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "request and connect timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSetCommand(&cfg, dial),
		newSetMapCommand(&cfg, dial),
		newWatchCommand(&cfg, dial),
		newHistoryCommand(&cfg),
		newSettingsCommand(&cfg),
	)
	return root
}

func newSetCommand(cfg *Config, dial Dialer) *cobra.Command {
	var (
		sp       string
		cooldown int
		grams    float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the cooldown and/or portion of one species.",
		Example: `  feederctl set --species cat --cooldown 90 --grams 40
  feederctl set --species dog --grams 30 --broker ssl://example-ats.iot.eu-west-1.amazonaws.com:8883`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cd *int
			var g *float64
			if cmd.Flags().Changed("cooldown") {
				cd = &cooldown
			}
			if cmd.Flags().Changed("grams") {
				g = &grams
			}
			payload, err := FlatMessage(sp, cd, g)
			if err != nil {
				return err
			}
			return sendSettings(cmd, cfg, dial, payload)
		},
	}
	cmd.Flags().StringVar(&sp, "species", "", "species to update")
	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "cooldown in whole seconds")
	cmd.Flags().Float64Var(&grams, "grams", 0, "portion in grams")
	return cmd
}

func newSetMapCommand(cfg *Config, dial Dialer) *cobra.Command {
	return &cobra.Command{
		Use:     "set-map <json>",
		Short:   "Send a settings message covering several species.",
		Example: `  feederctl set-map '{"cat":{"cooldown":90},"dog":{"grams":30}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := MapMessage(args[0])
			if err != nil {
				return err
			}
			return sendSettings(cmd, cfg, dial, payload)
		},
	}
}

// sendSettings publishes payload over MQTT, or posts it to the HTTP API when
// no broker is set and prints what the device applied.
func sendSettings(cmd *cobra.Command, cfg *Config, dial Dialer, payload []byte) error {
	ctx := cmd.Context()
	for _, r := range Rejections(payload) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: the device will ignore %s\n", r)
	}

	if cfg.Broker == "" {
		updated, err := NewAPIClient(cfg.BaseURL, cfg.Timeout).ApplySettings(ctx, payload)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"updated": updated})
	}

	t, err := dial(ctx, *cfg)
	if err != nil {
		return err
	}
	defer t.Disconnect()
	if err := t.Publish(ctx, cfg.SettingsTopic, payload); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published to %s: %s\n", cfg.SettingsTopic, payload)
	return nil
}

func newWatchCommand(cfg *Config, dial Dialer) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print telemetry events as they arrive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Broker == "" {
				return ErrNoBroker
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			t, err := dial(ctx, *cfg)
			if err != nil {
				return err
			}
			defer t.Disconnect()
			return Watch(ctx, t, cfg.TelemetryTopic, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long; 0 runs until interrupted")
	return cmd
}

func newHistoryCommand(cfg *Config) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent dispense attempts from the device API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			attempts, err := NewAPIClient(cfg.BaseURL, cfg.Timeout).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), attempts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSPECIES\tOUTCOME\tTARGET\tGRAMS\tDURATION\tID")
			for _, a := range attempts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					a.StartedAt.Local().Format(time.DateTime),
					a.Species,
					a.Outcome,
					strconv.FormatFloat(a.TargetGrams, 'f', 1, 64),
					strconv.FormatFloat(a.Grams, 'f', 1, 64),
					a.Duration.Round(time.Millisecond),
					a.ID,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of attempts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newSettingsCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the settings in effect on the device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := NewAPIClient(cfg.BaseURL, cfg.Timeout).Settings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), current)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
