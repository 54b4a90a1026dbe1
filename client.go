package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// DefaultTLSProfile is the TLS fingerprint used when none is configured.
const DefaultTLSProfile = "chrome_133"

// ClientOptions configures the transport behind a Session.
type ClientOptions struct {
	TLSProfile profiles.ClientProfile
	ProxyURL   string
	Timeout    time.Duration
	// TrustAll skips certificate verification; some carrier portals serve
	// chains the default trust store rejects.
	TrustAll bool
}

// ResolveTLSProfile maps a configured name such as "chrome_133" or
// "okhttp4_android_13" to a tls-client profile.
func ResolveTLSProfile(name string) (profiles.ClientProfile, error) {
	if name == "" {
		name = DefaultTLSProfile
	}
	profile, ok := profiles.MappedTLSClients[strings.ToLower(name)]
	if !ok {
		return profiles.ClientProfile{}, fmt.Errorf("unknown tls profile %q", name)
	}
	return profile, nil
}

// TLSProfileNames lists every profile name ResolveTLSProfile accepts.
func TLSProfileNames() []string {
	names := make([]string, 0, len(profiles.MappedTLSClients))
	for name := range profiles.MappedTLSClients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewClient creates a cookie-keeping HTTP client. Each send operation gets
// its own client so cookies never leak between sends.
func NewClient(logger tls_client.Logger, opts ClientOptions) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutMilliseconds(int(timeout.Milliseconds())),
		tls_client.WithClientProfile(opts.TLSProfile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithCookieJar(jar),
	}

	if opts.TrustAll {
		options = append(options, tls_client.WithInsecureSkipVerify())
	}

	if opts.ProxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(opts.ProxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
