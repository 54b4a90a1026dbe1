package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
)

// Request is one outbound call within a send operation. A request with a
// Form is POSTed, anything else is a GET.
type Request struct {
	URL       string
	Form      []Field
	Multipart bool
	Referer   string
	Accept    string // overrides the profile accept header
}

// Response is a fully read 200 response.
type Response struct {
	StatusCode int
	URL        string
	Body       []byte
}

// Text returns the body as a string for delimiter scraping.
func (r *Response) Text() string {
	return string(r.Body)
}

// Session performs the HTTP calls of one send operation. Cookies set by the
// carrier or the captcha provider stay in the client's jar and are replayed
// on later calls of the same session.
type Session struct {
	client  tls_client.HttpClient
	profile *SiteProfile
	logger  Logger
}

// NewSession wraps a client for the given profile.
func NewSession(client tls_client.HttpClient, profile *SiteProfile, logger Logger) *Session {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Session{
		client:  client,
		profile: profile,
		logger:  logger,
	}
}

// Profile returns the site profile this session talks to.
func (s *Session) Profile() *SiteProfile {
	return s.profile
}

// Cookies returns the cookies the session would replay to rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.client.GetCookies(u)
}

// Execute sends the request and returns the body of a 200 response.
// Once issued, a request runs to completion or to the client timeout.
func (s *Session) Execute(ctx context.Context, r *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := s.newRequest(r)
	if err != nil {
		return nil, err
	}

	resp, err := s.doRequest(req)
	if err != nil {
		if IsRetryableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, r.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: r.URL, StatusCode: resp.StatusCode, Reason: reasonPhrase(resp)}
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrNetworkUnavailable, r.URL, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyResponse, r.URL)
	}

	return &Response{StatusCode: resp.StatusCode, URL: r.URL, Body: body}, nil
}

func (s *Session) newRequest(r *Request) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	var contentType string

	if r.Form != nil {
		method = http.MethodPost
		if r.Multipart {
			data, ct, err := encodeMultipart(r.Form)
			if err != nil {
				return nil, fmt.Errorf("encode multipart body: %w", err)
			}
			body, contentType = bytes.NewReader(data), ct
		} else {
			body = strings.NewReader(encodeForm(r.Form))
			contentType = "application/x-www-form-urlencoded; charset=UTF-8"
		}
	}

	req, err := http.NewRequest(method, r.URL, body)
	if err != nil {
		return nil, err
	}

	accept := r.Accept
	if accept == "" {
		accept = s.profile.Accept
	}

	req.Header = http.Header{
		"User-Agent":      {s.profile.UserAgent},
		"Accept":          {accept},
		"Accept-Language": {s.profile.AcceptLanguage},
		"Accept-Encoding": {"gzip, deflate"},
		http.HeaderOrderKey: {
			"Host",
			"Connection",
			"Content-Length",
			"Accept",
			"Origin",
			"User-Agent",
			"Content-Type",
			"Referer",
			"Accept-Encoding",
			"Accept-Language",
			"Cookie",
		},
	}
	if s.profile.FixedCookie != "" {
		req.Header.Set("Cookie", s.profile.FixedCookie)
	}
	if r.Referer != "" {
		req.Header.Set("Referer", r.Referer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
		if origin := originOf(r.URL); origin != "" {
			req.Header.Set("Origin", origin)
		}
	}

	return req, nil
}

// doRequest executes an HTTP request and logs the request URL and response status code.
func (s *Session) doRequest(req *http.Request) (*http.Response, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Log("%s %s -> error: %v", req.Method, req.URL.Path, err)
		return nil, err
	}
	s.logger.Log("%s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
	return resp, nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
