package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/ratelimit"
	"solana-copytrader/internal/swap"
)

// PushPayload is the webhook body: a transaction the upstream indexer has
// already decoded into structured events, keyed by signature.
type PushPayload struct {
	Signature string                  `json:"signature"`
	Events    []swap.StructuredEvent `json:"events"`
}

// PushSource runs an HTTP endpoint that accepts webhook deliveries,
// replies immediately, and hands the transaction to the sink for
// sequential processing.
type PushSource struct {
	app     *fiber.App
	sink    Sink
	limiter *ratelimit.FixedWindow
	host    string
	port    int
}

// NewPushSource creates a push source rate-limited to limit requests per
// window (the default is 120/min per spec).
func NewPushSource(host string, port int, sink Sink, limit int, window time.Duration) *PushSource {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	p := &PushSource{
		app:     app,
		sink:    sink,
		limiter: ratelimit.NewFixedWindow(limit, window),
		host:    host,
		port:    port,
	}
	p.setupRoutes()
	return p
}

func (p *PushSource) setupRoutes() {
	p.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})
	p.app.Post("/webhook", p.handleWebhook)
}

func (p *PushSource) handleWebhook(c *fiber.Ctx) error {
	if !p.limiter.Allow() {
		log.Warn().Msg("push webhook rate limit exceeded, dropping delivery")
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
	}

	var payload PushPayload
	if err := c.BodyParser(&payload); err != nil {
		log.Error().Err(err).Msg("failed to parse webhook payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if payload.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing signature"})
	}

	// Acknowledge first; the sink processes on its own goroutine so a slow
	// or backed-up pipeline never stalls the webhook sender.
	go p.sink.Submit(context.Background(), &swap.RawTransaction{
		Signature: payload.Signature,
		Events:    payload.Events,
		Source:    swap.SourceWebhook,
	})

	return c.JSON(fiber.Map{"status": "received"})
}

// Start runs the push source's HTTP server. Blocks until Shutdown is called
// or the listener fails.
func (p *PushSource) Start() error {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	log.Info().Str("addr", addr).Msg("starting push ingestion source")
	return p.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (p *PushSource) Shutdown() error {
	return p.app.Shutdown()
}
