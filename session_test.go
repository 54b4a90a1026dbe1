package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExecute(t *testing.T) {
	var (
		mu       sync.Mutex
		lastReq  *http.Request
		lastBody string
	)
	last := func() (*http.Request, string) {
		mu.Lock()
		defer mu.Unlock()
		return lastReq, lastBody
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		lastReq, lastBody = r.Clone(context.Background()), string(body)
		mu.Unlock()

		switch r.URL.Path {
		case "/ok":
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
			_, _ = w.Write([]byte("hello"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/missing":
			http.NotFound(w, r)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		default:
			_, _ = w.Write([]byte("fallback"))
		}
	}))
	defer srv.Close()

	profile, err := LookupProfile("megafon-v1", srv.URL, srv.URL)
	require.NoError(t, err)

	t.Run("200 returns body and sends profile headers", func(t *testing.T) {
		session := newTestSession(t, profile)

		resp, err := session.Execute(context.Background(), &Request{URL: srv.URL + "/ok", Referer: profile.HomeURL})
		require.NoError(t, err)
		lastReq, _ := last()
		assert.Equal(t, "hello", resp.Text())
		assert.Equal(t, http.MethodGet, lastReq.Method)
		assert.Equal(t, profile.UserAgent, lastReq.Header.Get("User-Agent"))
		assert.Equal(t, profile.AcceptLanguage, lastReq.Header.Get("Accept-Language"))
		assert.Equal(t, profile.HomeURL, lastReq.Header.Get("Referer"))
		assert.Contains(t, lastReq.Header.Get("Cookie"), "NID=50=")
	})

	t.Run("cookies are replayed within the session", func(t *testing.T) {
		session := newTestSession(t, profile)

		_, err := session.Execute(context.Background(), &Request{URL: srv.URL + "/ok"})
		require.NoError(t, err)
		_, err = session.Execute(context.Background(), &Request{URL: srv.URL + "/other"})
		require.NoError(t, err)

		lastReq, _ := last()
		assert.Contains(t, lastReq.Header.Get("Cookie"), "JSESSIONID=abc")
		assert.Contains(t, lastReq.Header.Get("Cookie"), "NID=50=")
		assert.NotEmpty(t, session.Cookies(srv.URL+"/"))
	})

	t.Run("cookies do not leak between sessions", func(t *testing.T) {
		first := newTestSession(t, profile)
		_, err := first.Execute(context.Background(), &Request{URL: srv.URL + "/ok"})
		require.NoError(t, err)

		second := newTestSession(t, profile)
		_, err = second.Execute(context.Background(), &Request{URL: srv.URL + "/other"})
		require.NoError(t, err)
		lastReq, _ := last()
		assert.NotContains(t, lastReq.Header.Get("Cookie"), "JSESSIONID")
	})

	t.Run("form posts are url-encoded", func(t *testing.T) {
		session := newTestSession(t, profile)

		_, err := session.Execute(context.Background(), &Request{
			URL:  srv.URL + "/post",
			Form: []Field{{Name: "a", Value: "1"}, {Name: "b", Value: "x y"}},
		})
		require.NoError(t, err)
		lastReq, lastBody := last()
		assert.Equal(t, http.MethodPost, lastReq.Method)
		assert.True(t, strings.HasPrefix(lastReq.Header.Get("Content-Type"), "application/x-www-form-urlencoded"))
		assert.Equal(t, srv.URL, lastReq.Header.Get("Origin"))
		assert.Equal(t, "a=1&b=x+y", lastBody)
	})

	t.Run("multipart posts", func(t *testing.T) {
		session := newTestSession(t, profile)

		_, err := session.Execute(context.Background(), &Request{
			URL:       srv.URL + "/post",
			Form:      []Field{{Name: "addr", Value: "9121234567"}},
			Multipart: true,
		})
		require.NoError(t, err)
		lastReq, lastBody := last()
		assert.True(t, strings.HasPrefix(lastReq.Header.Get("Content-Type"), "multipart/form-data; boundary="))
		assert.Contains(t, lastBody, `name="addr"`)
		assert.Contains(t, lastBody, "9121234567")
	})

	t.Run("non-200 carries status and reason", func(t *testing.T) {
		session := newTestSession(t, profile)

		_, err := session.Execute(context.Background(), &Request{URL: srv.URL + "/missing"})
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 404, statusErr.StatusCode)
		assert.Equal(t, "Not Found", statusErr.Reason)

		_, err = session.Execute(context.Background(), &Request{URL: srv.URL + "/teapot"})
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTeapot, statusErr.StatusCode)
		assert.Equal(t, "I'm a teapot", statusErr.Reason)
	})

	t.Run("empty 200 body", func(t *testing.T) {
		session := newTestSession(t, profile)

		_, err := session.Execute(context.Background(), &Request{URL: srv.URL + "/empty"})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("cancelled context issues no request", func(t *testing.T) {
		session := newTestSession(t, profile)
		mu.Lock()
		lastReq = nil
		mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := session.Execute(ctx, &Request{URL: srv.URL + "/ok"})
		assert.ErrorIs(t, err, context.Canceled)
		req, _ := last()
		assert.Nil(t, req)
	})
}

func TestSessionUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	profile, err := LookupProfile("megafon-v1", addr, addr)
	require.NoError(t, err)
	session := newTestSession(t, profile)

	_, err = session.Execute(context.Background(), &Request{URL: addr + "/"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkUnavailable), "got %v", err)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://sendsms.megafon.ru", originOf("https://sendsms.megafon.ru/sms.action"))
	assert.Equal(t, "http://127.0.0.1:8080", originOf("http://127.0.0.1:8080/api/sms/send?x=1"))
	assert.Equal(t, "", originOf("not a url"))
}
