package main

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

// NetworkChecker answers whether a send has any chance to reach the carrier.
type NetworkChecker interface {
	NetworkAvailable(ctx context.Context) bool
}

// dialChecker opens and closes a TCP connection to the carrier host.
type dialChecker struct {
	addr    string
	timeout time.Duration
}

// newDialChecker probes the host of rawURL, defaulting the port from its scheme.
func newDialChecker(rawURL string, timeout time.Duration) (*dialChecker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	addr := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	return &dialChecker{addr: addr, timeout: timeout}, nil
}

func (d *dialChecker) NetworkAvailable(ctx context.Context) bool {
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return false
	}

	conn, err := fasthttp.DialTimeout(d.addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
