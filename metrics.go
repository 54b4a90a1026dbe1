package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for send operations.
type Metrics struct {
	Sends       *prometheus.CounterVec
	CaptchaWait prometheus.Histogram
	StatusPolls *prometheus.CounterVec
	Restarts    prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "websms_sends_total",
			Help: "Send operations by profile and outcome",
		}, []string{"profile", "outcome"}),
		CaptchaWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "websms_captcha_wait_seconds",
			Help:    "Time spent waiting for a human captcha answer",
			Buckets: []float64{2, 5, 10, 20, 30, 45, 60, 90, 120},
		}),
		StatusPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "websms_status_polls_total",
			Help: "Delivery status polls by classified status",
		}, []string{"status"}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "websms_captcha_restarts_total",
			Help: "Sends restarted after the carrier rejected a captcha answer",
		}),
	}
}

// outcomeLabel is the metrics label for a finished send.
func outcomeLabel(o Outcome) string {
	if o.Err == nil {
		return "success"
	}
	if CanRestart(o.Err) {
		return "captcha_rejected"
	}
	return "failure"
}
