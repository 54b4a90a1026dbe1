package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const networkProbeTimeout = 5 * time.Second

var (
	configPath  string // overridable via --config flag
	profileFlag string
)

func main() {
	root := &cobra.Command{
		Use:           "websms",
		Short:         "Send SMS through a carrier web portal, with a human solving the captcha",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "site profile (overrides config)")

	root.AddCommand(sendCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(profilesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles what every command needs after config and logging are up.
type app struct {
	cfg     *Config
	zap     *zap.Logger
	engine  *zap.SugaredLogger
	modLog  Logger
	profile *SiteProfile
}

func setup() (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if profileFlag != "" {
		cfg.Profile = profileFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	lg, err := newZapLogger(cfg.LogEnv, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	profile, err := LookupProfile(cfg.Profile, cfg.CarrierURL, cfg.ProviderURL)
	if err != nil {
		_ = lg.Sync()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		zap:     lg,
		engine:  lg.Named("engine").Sugar(),
		modLog:  newLogger(lg.Named(profile.Name)),
		profile: profile,
	}, nil
}

// newSender wires the workflow with its optional collaborators.
func (a *app) newSender(gate *CaptchaGate, reporter Reporter, metrics *Metrics) (*Sender, error) {
	scfg, err := a.cfg.senderConfig()
	if err != nil {
		return nil, err
	}

	sender := NewSender(a.profile, gate, reporter, a.modLog, scfg)

	checker, err := newDialChecker(a.profile.HomeURL, networkProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("network checker: %w", err)
	}
	sender.SetNetworkChecker(checker)

	if a.cfg.ProxyFile != "" {
		pm, err := NewProxyManager(a.cfg.ProxyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load proxies: %w", err)
		}
		a.engine.Infof("Loaded %d proxies", pm.Count())
		sender.SetProxyManager(pm)
	}

	if metrics != nil {
		sender.SetMetrics(metrics)
	}
	return sender, nil
}

func sendCmd() *cobra.Command {
	var (
		to   []string
		text string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message, prompting for the captcha on this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.zap.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			presenter := newTerminalPresenter(a.cfg.CaptchaDir, cmd.OutOrStdout())
			gate := NewCaptchaGate(presenter)
			go readAnswers(ctx, cmd.InOrStdin(), gate)

			sender, err := a.newSender(gate, logReporter{logger: a.modLog}, nil)
			if err != nil {
				return err
			}

			a.engine.Infof("Sending to %s via %s...", strings.Join(to, ", "), a.profile.Name)
			out := sender.Send(ctx, SendRequest{Recipients: to, Text: text})
			fmt.Fprintln(cmd.OutOrStdout(), out.Message())

			if !out.Success() {
				return out.Err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&to, "to", "t", nil, "recipient number (+7...), repeatable")
	cmd.Flags().StringVarP(&text, "text", "m", "", "message text")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front-end: queue sends, answer captchas in the browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.zap.Sync()

			if listen != "" {
				a.cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := NewMetrics(reg)

			store := newOutcomeStore()
			presenter := &webPresenter{}
			gate := NewCaptchaGate(presenter)

			reporter := multiReporter{logReporter{logger: a.modLog}, metricsReporter{metrics: metrics}, store}
			sender, err := a.newSender(gate, reporter, metrics)
			if err != nil {
				return err
			}

			dispatcher := NewDispatcher(sender, store, a.cfg.QueueSize, a.modLog)
			dispatcher.Start(ctx)
			defer dispatcher.Close()

			server := NewServer(dispatcher, store, presenter, gate, a.cfg.Enabled, reg)
			a.engine.Infof("Listening on %s (profile %s, enabled=%t)", a.cfg.Listen, a.profile.Name, a.cfg.Enabled)

			if err := server.Start(ctx, a.cfg.Listen); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server: %w", err)
			}
			a.engine.Info("=== Server stopped ===")
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the site profiles and TLS fingerprints available",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Site profiles:")
			for _, name := range ProfileNames() {
				p, err := LookupProfile(name, "", "")
				if err != nil {
					return err
				}
				marker := " "
				if name == GetDefaultProfile() {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %-12s %s\n", marker, name, p.Description)
			}

			fmt.Fprintln(out, "\nTLS profiles:")
			for _, name := range TLSProfileNames() {
				fmt.Fprintf(out, "   %s\n", name)
			}
			return nil
		},
	}
}
