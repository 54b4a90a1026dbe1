package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP front-end: it queues sends, shows the pending captcha
// to a human and takes the answer back.
type Server struct {
	app        *fiber.App
	dispatcher *Dispatcher
	store      *outcomeStore
	presenter  *webPresenter
	gate       *CaptchaGate
	enabled    bool
}

// NewServer wires the routes. gatherer backs /metrics.
func NewServer(dispatcher *Dispatcher, store *outcomeStore, presenter *webPresenter, gate *CaptchaGate, enabled bool, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		}),
		dispatcher: dispatcher,
		store:      store,
		presenter:  presenter,
		gate:       gate,
		enabled:    enabled,
	}

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "enabled": s.enabled})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.app.Group("/api")
	api.Post("/sms", s.handleSend)
	api.Get("/sms/:id", s.handleOutcome)
	api.Get("/captcha", s.handleCaptchaImage)
	api.Post("/captcha", s.handleCaptchaAnswer)

	return s
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

type sendRequestBody struct {
	To         string   `json:"to"`
	Recipients []string `json:"recipients"`
	Text       string   `json:"text"`
}

// handleSend queues a message.
//
// POST /api/sms
// Body: { "to": "+7...", "text": "..." }
func (s *Server) handleSend(c *fiber.Ctx) error {
	if !s.enabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": UserMessage(ErrConnectorDisabled)})
	}

	var body sendRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	recipients := body.Recipients
	if body.To != "" {
		recipients = append([]string{body.To}, recipients...)
	}
	if len(recipients) == 0 || strings.TrimSpace(body.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to and text are required"})
	}
	if err := validateText(body.Text, s.dispatcher.Profile().MaxTextLength); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": UserMessage(err)})
	}

	id, err := s.dispatcher.Submit(SendRequest{Recipients: recipients, Text: body.Text})
	if errors.Is(err, ErrQueueFull) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": UserMessage(err)})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}

type outcomeResponse struct {
	ID      string `json:"id"`
	Profile string `json:"profile"`
	State   string `json:"state"`
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleOutcome reports where a queued send stands.
//
// GET /api/sms/:id
func (s *Server) handleOutcome(c *fiber.Ctx) error {
	rec, ok := s.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "send not found"})
	}

	resp := outcomeResponse{ID: rec.ID, Profile: rec.Profile, State: "pending"}
	if rec.Done {
		resp.State = "done"
		resp.Success = rec.Outcome.Success()
		resp.Status = rec.Outcome.Status.String()
		resp.Message = rec.Outcome.Message()
		if rec.Outcome.Err != nil {
			resp.Error = rec.Outcome.Err.Error()
		}
	}
	return c.JSON(resp)
}

// handleCaptchaImage serves the captcha currently waiting for an answer.
//
// GET /api/captcha
func (s *Server) handleCaptchaImage(c *fiber.Ctx) error {
	prompt, ok := s.presenter.Pending()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no captcha pending"})
	}

	c.Set(fiber.HeaderContentType, "image/"+prompt.Format)
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("X-Captcha-Expires", prompt.Expires.UTC().Format(time.RFC3339))
	return c.Send(prompt.Image)
}

type captchaAnswerBody struct {
	Answer string `json:"answer"`
}

// handleCaptchaAnswer delivers the human answer to the waiting send.
//
// POST /api/captcha
// Body: { "answer": "..." }
func (s *Server) handleCaptchaAnswer(c *fiber.Ctx) error {
	var body captchaAnswerBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if !s.gate.Waiting() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no captcha pending"})
	}

	s.gate.Deliver(body.Answer)
	return c.SendStatus(fiber.StatusNoContent)
}
