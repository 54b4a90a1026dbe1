package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CaptchaPrompt is what a presenter shows to the human.
type CaptchaPrompt struct {
	Image   []byte
	Format  string
	Expires time.Time
}

// CaptchaPresenter publishes a captcha to a human. It must not block on
// the answer; answers come back through CaptchaGate.Deliver.
type CaptchaPresenter interface {
	PresentCaptcha(ctx context.Context, prompt CaptchaPrompt)
}

// captchaDismisser is implemented by presenters that need to withdraw a
// prompt once the wait is over.
type captchaDismisser interface {
	DismissCaptcha()
}

// CaptchaGate is a single-slot rendezvous between the send workflow and
// the human answering its captcha.
type CaptchaGate struct {
	presenter CaptchaPresenter

	mu      sync.Mutex
	slot    chan string
	waiting atomic.Bool
}

// NewCaptchaGate creates a gate publishing through presenter.
func NewCaptchaGate(presenter CaptchaPresenter) *CaptchaGate {
	return &CaptchaGate{
		presenter: presenter,
		slot:      make(chan string, 1),
	}
}

// Deliver hands in an answer. It never blocks; a newer answer replaces one
// that has not been picked up yet.
func (g *CaptchaGate) Deliver(answer string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.slot:
	default:
	}
	g.slot <- answer
}

// Waiting reports whether a Resolve call is waiting for an answer.
func (g *CaptchaGate) Waiting() bool {
	return g.waiting.Load()
}

// claim marks the gate as waiting and drops any unread answer. Both happen
// under mu so a Deliver lands either before the drop or in the new wait.
func (g *CaptchaGate) claim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.waiting.Load() {
		return false
	}
	select {
	case <-g.slot:
	default:
	}
	g.waiting.Store(true)
	return true
}

// Resolve publishes the challenge and waits up to timeout for an answer.
// A stale answer left from an earlier attempt is discarded first.
// Cancelling ctx ends the wait exactly like the timeout does.
func (g *CaptchaGate) Resolve(ctx context.Context, challenge CaptchaChallenge, timeout time.Duration) (CaptchaResolution, error) {
	if !g.claim() {
		return CaptchaResolution{}, ErrCaptchaBusy
	}
	defer g.waiting.Store(false)

	if d, ok := g.presenter.(captchaDismisser); ok {
		defer d.DismissCaptcha()
	}
	g.presenter.PresentCaptcha(ctx, CaptchaPrompt{
		Image:   challenge.Image,
		Format:  challenge.Format,
		Expires: time.Now().Add(timeout),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-g.slot:
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return CaptchaResolution{}, ErrCaptchaAnswerEmpty
		}
		return CaptchaResolution{Challenge: challenge, Answer: answer}, nil
	case <-timer.C:
		return CaptchaResolution{}, fmt.Errorf("%w after %s", ErrCaptchaTimeout, timeout)
	case <-ctx.Done():
		return CaptchaResolution{}, fmt.Errorf("%w: wait interrupted", ErrCaptchaTimeout)
	}
}
