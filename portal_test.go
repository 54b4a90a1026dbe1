package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePortal serves both the carrier and the captcha provider routes of
// the two MegaFon profiles. Provider routes live under /provider.
type fakePortal struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	answer       string   // captcha answer the carrier accepts
	provider     string   // v2 captcha provider name
	statuses     []string // v2 status codes, one per poll
	sendErrorMsg string   // v1 refusal text, sent regardless of answer
	imageBody    []byte
	sent         []map[string]string
	cookies      []string
	polls        int
	challenges   int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		t:         t,
		answer:    "42abc",
		provider:  "recaptcha",
		statuses:  []string{"1", "2", "3"},
		imageBody: testPNG(t),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/provider/noscript", p.handleNoscript)
	mux.HandleFunc("/provider/challenge", p.handleChallenge)
	mux.HandleFunc("/provider/reload", p.handleReload)
	mux.HandleFunc("/provider/image", p.handleImage)
	mux.HandleFunc("/sms.action", p.handleSendV1)
	mux.HandleFunc("/api/captcha", p.handleCaptchaInfo)
	mux.HandleFunc("/api/sms/send", p.handleSendV2)
	mux.HandleFunc("/api/sms/status", p.handleStatus)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) profile(name string) *SiteProfile {
	p.t.Helper()
	profile, err := LookupProfile(name, p.srv.URL, p.srv.URL+"/provider")
	require.NoError(p.t, err)
	return profile
}

// update changes portal behaviour while handlers may be running.
func (p *fakePortal) update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *fakePortal) lastSent() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.sent)
	return p.sent[len(p.sent)-1]
}

func (p *fakePortal) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePortal) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *fakePortal) recordCookie(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, r.Header.Get("Cookie"))
}

func (p *fakePortal) handleNoscript(w http.ResponseWriter, r *http.Request) {
	p.recordCookie(r)
	p.mu.Lock()
	p.challenges++
	n := p.challenges
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
	fmt.Fprintf(w, `<form><img src="image?c=tok%d"><input type="hidden" name="recaptcha_challenge_field" id="recaptcha_challenge_field" value="tok%d"></form>`, n, n)
}

func (p *fakePortal) handleCaptchaInfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"provider":"%s","siteKey":"site-key-1"}`, provider)
}

func (p *fakePortal) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("k") != "site-key-1" {
		http.Error(w, "bad key", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.challenges++
	n := p.challenges
	p.mu.Unlock()

	fmt.Fprintf(w, "var RecaptchaState = {\n    site : 'site-key-1',\n    challenge : 'first%d',\n    is_incorrect : false\n};", n)
}

func (p *fakePortal) handleReload(w http.ResponseWriter, r *http.Request) {
	c := r.URL.Query().Get("c")
	if !strings.HasPrefix(c, "first") {
		http.Error(w, "bad challenge", http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "Recaptcha.finish_reload('re-%s', 'image', null, null);", c)
}

func (p *fakePortal) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("c") == "" {
		http.Error(w, "no challenge", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	body := p.imageBody
	p.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(body)
}

func (p *fakePortal) handleSendV1(w http.ResponseWriter, r *http.Request) {
	p.recordCookie(r)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}

	p.mu.Lock()
	p.sent = append(p.sent, fields)
	answer, refusal := p.answer, p.sendErrorMsg
	p.mu.Unlock()

	switch {
	case refusal != "":
		fmt.Fprintf(w, `<html><h1 class="error"> %s </h1></html>`, refusal)
	case fields["recaptcha_response_field"] != answer:
		fmt.Fprint(w, `<html><h1 class="error">Неверно введен код</h1></html>`)
	default:
		fmt.Fprint(w, `<html><a class="link-check-status" href="/status">check</a></html>`)
	}
}

func (p *fakePortal) handleSendV2(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make(map[string]string)
	for k, v := range r.PostForm {
		fields[k] = v[0]
	}

	p.mu.Lock()
	p.sent = append(p.sent, fields)
	n := len(p.sent)
	answer := p.answer
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fields["captcha_answer"] != answer {
		fmt.Fprint(w, `{"result":"error","error":"captcha_invalid"}`)
		return
	}
	fmt.Fprintf(w, `{"result":"ok","key":"key-%d"}`, n)
}

func (p *fakePortal) handleStatus(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	i := p.polls
	p.polls++
	code := p.statuses[len(p.statuses)-1]
	if i < len(p.statuses) {
		code = p.statuses[i]
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"key":"%s","status":"%s"}`, r.URL.Query().Get("key"), code)
}

// testPNG returns a tiny valid PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testClientOptions(t *testing.T) ClientOptions {
	t.Helper()
	profile, err := ResolveTLSProfile("")
	require.NoError(t, err)
	return ClientOptions{TLSProfile: profile, Timeout: 5 * time.Second}
}

func newTestSession(t *testing.T, profile *SiteProfile) *Session {
	t.Helper()
	client, err := NewClient(nil, testClientOptions(t))
	require.NoError(t, err)
	return NewSession(client, profile, nil)
}

// answeringPresenter answers each captcha it is shown with the next
// scripted answer. With no answers left it stays silent.
type answeringPresenter struct {
	gate *CaptchaGate

	mu        sync.Mutex
	answers   []string
	prompts   []CaptchaPrompt
	dismissed int
}

func newAnsweringGate(answers ...string) (*CaptchaGate, *answeringPresenter) {
	p := &answeringPresenter{answers: answers}
	p.gate = NewCaptchaGate(p)
	return p.gate, p
}

func (a *answeringPresenter) PresentCaptcha(_ context.Context, prompt CaptchaPrompt) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	if len(a.answers) == 0 {
		a.mu.Unlock()
		return
	}
	answer := a.answers[0]
	a.answers = a.answers[1:]
	a.mu.Unlock()

	a.gate.Deliver(answer)
}

func (a *answeringPresenter) DismissCaptcha() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissed++
}

func (a *answeringPresenter) promptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) Log(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingLogger) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}
