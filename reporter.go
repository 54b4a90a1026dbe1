package main

import (
	"context"
	"time"
)

// Outcome is the single terminal result of one send operation.
type Outcome struct {
	SendID    string
	Profile   string
	Recipient string
	// Status is the last delivery status seen, StatusNone when the
	// profile does not track delivery or the send failed before acceptance.
	Status   DeliveryStatus
	Err      error
	Finished time.Time
}

// Success reports whether the message was accepted (and not later failed).
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Message is the human-readable line for the end user.
func (o Outcome) Message() string {
	if o.Err != nil {
		return UserMessage(o.Err)
	}
	if o.Status != StatusNone {
		return "Message " + o.Status.String()
	}
	return "Message accepted by carrier"
}

// Reporter receives the terminal outcome of every send.
type Reporter interface {
	Report(ctx context.Context, o Outcome)
}

type multiReporter []Reporter

func (m multiReporter) Report(ctx context.Context, o Outcome) {
	for _, r := range m {
		r.Report(ctx, o)
	}
}

type logReporter struct {
	logger Logger
}

func (l logReporter) Report(_ context.Context, o Outcome) {
	if o.Err != nil {
		l.logger.Log("[%s] FAILED %s via %s: %s (%v)", shortID(o.SendID), o.Recipient, o.Profile, o.Message(), o.Err)
		return
	}
	l.logger.Log("[%s] SUCCESS %s via %s: %s", shortID(o.SendID), o.Recipient, o.Profile, o.Message())
}

type metricsReporter struct {
	metrics *Metrics
}

func (m metricsReporter) Report(_ context.Context, o Outcome) {
	m.metrics.Sends.WithLabelValues(o.Profile, outcomeLabel(o)).Inc()
}

// shortID trims a uuid to the 8-character form used in log prefixes.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
