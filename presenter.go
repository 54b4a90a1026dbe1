package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// Terminal
// =============================================================================

// terminalPresenter saves the captcha image to a file and takes answers
// typed on stdin.
type terminalPresenter struct {
	dir string
	out io.Writer

	mu   sync.Mutex
	file string
}

func newTerminalPresenter(dir string, out io.Writer) *terminalPresenter {
	if dir == "" {
		dir = os.TempDir()
	}
	return &terminalPresenter{dir: dir, out: out}
}

func (t *terminalPresenter) PresentCaptcha(_ context.Context, prompt CaptchaPrompt) {
	name := filepath.Join(t.dir, fmt.Sprintf("websms-captcha-%d.%s", time.Now().UnixNano(), prompt.Format))
	if err := os.WriteFile(name, prompt.Image, 0o600); err != nil {
		fmt.Fprintf(t.out, "Could not save captcha image: %v\n", err)
		return
	}

	t.mu.Lock()
	t.file = name
	t.mu.Unlock()

	fmt.Fprintf(t.out, "Captcha saved to %s\nType the characters and press Enter (until %s): ",
		name, prompt.Expires.Format(time.TimeOnly))
}

func (t *terminalPresenter) DismissCaptcha() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != "" {
		_ = os.Remove(t.file)
		t.file = ""
	}
}

// readAnswers delivers every line read from in to the gate until in is
// exhausted or ctx ends. Lines typed while nothing waits are discarded by
// the next Resolve.
func readAnswers(ctx context.Context, in io.Reader, gate *CaptchaGate) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		gate.Deliver(scanner.Text())
	}
}

// =============================================================================
// Web
// =============================================================================

// webPresenter keeps the pending captcha for the HTTP front-end.
type webPresenter struct {
	mu      sync.Mutex
	current *CaptchaPrompt
}

func (w *webPresenter) PresentCaptcha(_ context.Context, prompt CaptchaPrompt) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = &prompt
}

func (w *webPresenter) DismissCaptcha() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = nil
}

// Pending returns the captcha waiting for an answer, if any.
func (w *webPresenter) Pending() (CaptchaPrompt, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return CaptchaPrompt{}, false
	}
	return *w.current, true
}
