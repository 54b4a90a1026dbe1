package main

import (
	"context"
	"fmt"
	"time"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/google/uuid"
)

// SenderConfig holds the tunables of the send workflow.
type SenderConfig struct {
	Enabled         bool
	CaptchaTimeout  time.Duration
	CaptchaRestarts int
	PollInterval    time.Duration
	PollAttempts    int
	Client          ClientOptions
}

// SendRequest is one message to send. ID is generated when empty.
type SendRequest struct {
	ID         string
	Recipients []string
	Text       string
}

// Sender runs the send workflow for one site profile: session, captcha,
// human answer, submit and, where the profile supports it, status polling.
// Sends must not overlap; callers serialize them.
type Sender struct {
	profile   *SiteProfile
	gate      *CaptchaGate
	reporter  Reporter
	logger    Logger
	cfg       SenderConfig
	fetcher   CaptchaFetcher
	submitter Submitter

	network   NetworkChecker
	proxies   *ProxyManager
	metrics   *Metrics
	newClient func(ClientOptions) (tls_client.HttpClient, error)
}

// NewSender creates a sender for profile. Captcha prompts go through gate.
func NewSender(profile *SiteProfile, gate *CaptchaGate, reporter Reporter, logger Logger, cfg SenderConfig) *Sender {
	if logger == nil {
		logger = nopLogger{}
	}
	if reporter == nil {
		reporter = multiReporter{}
	}
	return &Sender{
		profile:  profile,
		gate:     gate,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg,
		newClient: func(opts ClientOptions) (tls_client.HttpClient, error) {
			return NewClient(nil, opts)
		},
	}
}

// SetNetworkChecker sets the connectivity probe consulted before each send.
// It is not consulted while a proxy manager is set.
func (s *Sender) SetNetworkChecker(nc NetworkChecker) {
	s.network = nc
}

// SetProxyManager routes every send operation through the next proxy.
func (s *Sender) SetProxyManager(pm *ProxyManager) {
	s.proxies = pm
}

// SetMetrics enables captcha and polling instrumentation.
func (s *Sender) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Profile returns the site profile the sender works against.
func (s *Sender) Profile() *SiteProfile {
	return s.profile
}

// Send runs the workflow and reports exactly one outcome. A captcha the
// carrier rejects restarts the whole workflow, at most CaptchaRestarts times.
func (s *Sender) Send(ctx context.Context, req SendRequest) Outcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := &sendLogger{id: shortID(req.ID), base: s.logger}

	out := Outcome{SendID: req.ID, Profile: s.profile.Name}
	if len(req.Recipients) > 0 {
		out.Recipient = req.Recipients[0]
	}

	out.Status, out.Err = s.send(ctx, req, logger)
	out.Finished = time.Now()

	s.reporter.Report(ctx, out)
	return out
}

func (s *Sender) send(ctx context.Context, req SendRequest, logger Logger) (DeliveryStatus, error) {
	if err := ctx.Err(); err != nil {
		return StatusNone, err
	}
	if !s.cfg.Enabled {
		return StatusNone, ErrConnectorDisabled
	}

	msg, err := NewOutboundMessage(req.Recipients, req.Text, s.profile)
	if err != nil {
		return StatusNone, err
	}

	// The probe dials the carrier directly, which says nothing about a proxied route.
	if s.network != nil && s.proxies == nil && !s.network.NetworkAvailable(ctx) {
		return StatusNone, ErrNetworkUnavailable
	}

	for restart := 0; ; restart++ {
		status, err := s.attempt(ctx, msg, logger)
		if err == nil || !CanRestart(err) || restart >= s.cfg.CaptchaRestarts {
			return status, err
		}

		logger.Log("Captcha rejected, restarting with a new challenge (restart %d/%d)", restart+1, s.cfg.CaptchaRestarts)
		if s.metrics != nil {
			s.metrics.Restarts.Inc()
		}
	}
}

// attempt is one pass through the workflow on a fresh session.
func (s *Sender) attempt(ctx context.Context, msg OutboundMessage, logger Logger) (DeliveryStatus, error) {
	session, err := s.newSession(logger)
	if err != nil {
		return StatusNone, err
	}

	logger.Log("Fetching captcha from %s...", s.profile.Name)
	challenge, err := s.fetcher.Fetch(ctx, session)
	if err != nil {
		return StatusNone, err
	}

	logger.Log("Waiting up to %s for captcha answer...", s.cfg.CaptchaTimeout)
	started := time.Now()
	resolution, err := s.gate.Resolve(ctx, challenge, s.cfg.CaptchaTimeout)
	if s.metrics != nil {
		s.metrics.CaptchaWait.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return StatusNone, err
	}

	receipt, err := s.submitter.Submit(ctx, session, msg, resolution)
	if err != nil {
		return StatusNone, err
	}

	if !s.profile.PollsStatus() {
		logger.Log("Message accepted by carrier")
		return StatusAccepted, nil
	}

	logger.Log("Message accepted, tracking key %s", receipt.TrackingKey)
	poller := &StatusPoller{
		Interval: s.cfg.PollInterval,
		Attempts: s.cfg.PollAttempts,
	}
	if s.metrics != nil {
		poller.OnStatus = func(st DeliveryStatus) {
			s.metrics.StatusPolls.WithLabelValues(st.String()).Inc()
		}
	}
	return poller.Poll(ctx, session, receipt)
}

func (s *Sender) newSession(logger Logger) (*Session, error) {
	opts := s.cfg.Client
	opts.TrustAll = opts.TrustAll || s.profile.TrustAllCerts
	if s.proxies != nil {
		proxyURL, display := s.proxies.Next()
		opts.ProxyURL = proxyURL
		logger.Log("Using proxy: %s", display)
	}

	client, err := s.newClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return NewSession(client, s.profile, logger), nil
}
