package main

import (
	"context"
	"fmt"
	"time"
)

// DeliveryStatus is the carrier-side state of an accepted message.
type DeliveryStatus int

const (
	StatusNone DeliveryStatus = iota
	StatusAccepted
	StatusEnqueued
	StatusSent
	StatusDelivered
	StatusFailed
	StatusUnknown
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusEnqueued:
		return "enqueued"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	case StatusUnknown:
		return "unknown"
	default:
		return ""
	}
}

// Terminal reports whether polling stops at this status.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// SendReceipt correlates an accepted send with later status polls.
// TrackingKey is empty for profiles that confirm acceptance inline.
type SendReceipt struct {
	TrackingKey string
}

// StatusPoller queries the delivery-status endpoint until the message
// reaches a terminal status or the attempt budget runs out.
type StatusPoller struct {
	Interval time.Duration
	Attempts int
	// OnStatus, when set, observes every classified poll result.
	OnStatus func(DeliveryStatus)
}

// Poll returns Delivered, or the last non-terminal status once the budget
// is spent. Failed and unknown codes end polling with an error.
func (p *StatusPoller) Poll(ctx context.Context, session *Session, receipt SendReceipt) (DeliveryStatus, error) {
	profile := session.Profile()
	last := StatusAccepted

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(p.Interval):
		}

		resp, err := session.Execute(ctx, &Request{
			URL:     profile.statusURL(receipt.TrackingKey),
			Referer: profile.HomeURL,
		})
		if err != nil {
			return last, fmt.Errorf("poll status: %w", err)
		}

		code := profile.statusCode.in(resp.Text())
		if code == "" {
			return last, newProtocolError("status", "no status code in response")
		}

		status := profile.classifyStatus(code)
		if p.OnStatus != nil {
			p.OnStatus(status)
		}
		session.logger.Log("Delivery status %s (code %s, attempt %d/%d)", status, code, attempt, p.Attempts)

		switch status {
		case StatusDelivered:
			return status, nil
		case StatusFailed:
			return status, ErrDeliveryFailed
		case StatusUnknown:
			return status, &UnrecognizedStatusError{Code: code}
		}
		last = status
	}

	return last, nil
}
