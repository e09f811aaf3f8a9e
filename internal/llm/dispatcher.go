package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

var dispatchTracer = otel.Tracer("autoreply.internal.llm.dispatcher")

// GenerateRequest is what the pipeline asks for. Provider is kept as the raw
// configured string so unknown values can fall back instead of failing.
type GenerateRequest struct {
	Provider    string
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int32
}

// Result is a successful generation.
type Result struct {
	Text     string
	Latency  time.Duration
	Model    string
	Provider Provider
	Usage    Usage
}

// Dispatcher routes generation requests to the client registered for the
// configured provider.
type Dispatcher struct {
	clients       map[Provider]Client
	fallback      Provider
	fallbackModel string
	timeout       time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds every provider call. Zero leaves only the caller's deadline.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *logging.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

func withClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.now = now
	}
}

// NewDispatcher builds a dispatcher. The fallback provider must have a client.
func NewDispatcher(clients map[Provider]Client, fallback Provider, fallbackModel string, opts ...DispatcherOption) (*Dispatcher, error) {
	registered := make(map[Provider]Client, len(clients))
	for p, c := range clients {
		if c != nil {
			registered[p] = c
		}
	}
	if _, ok := registered[fallback]; !ok {
		return nil, fmt.Errorf("llm: no client configured for fallback provider %q", fallback)
	}
	if strings.TrimSpace(fallbackModel) == "" {
		fallbackModel = fallback.DefaultModel()
	}
	d := &Dispatcher{
		clients:       registered,
		fallback:      fallback,
		fallbackModel: fallbackModel,
		logger:        logging.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Providers lists the providers that have a client.
func (d *Dispatcher) Providers() []Provider {
	out := make([]Provider, 0, len(d.clients))
	for _, p := range Providers {
		if _, ok := d.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// route picks the client and model for a request.
func (d *Dispatcher) route(provider, model string) (Provider, Client, string) {
	model = strings.TrimSpace(model)
	if p, ok := ParseProvider(provider); ok {
		if client, ok := d.clients[p]; ok {
			if model == "" {
				model = p.DefaultModel()
			}
			return p, client, model
		}
	}
	d.logger.Warn("llm provider unavailable, using fallback",
		"requested_provider", provider,
		"requested_model", model,
		"fallback_provider", d.fallback,
		"fallback_model", d.fallbackModel,
	)
	return d.fallback, d.clients[d.fallback], d.fallbackModel
}

// Generate runs one completion. Latency covers only the provider call.
// Failures are returned as *GenerationError.
func (d *Dispatcher) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	provider, client, model := d.route(req.Provider, req.Model)

	ctx, span := dispatchTracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", string(provider)),
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	if len(req.Messages) == 0 {
		err := &GenerationError{Provider: provider, Model: model, Kind: KindProvider, Err: errors.New("no messages to send")}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := d.now()
	resp, err := client.Complete(callCtx, Request{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	latency := d.now().Sub(start)
	span.SetAttributes(attribute.Int64("llm.latency_ms", latency.Milliseconds()))

	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		genErr := &GenerationError{Provider: provider, Model: model, Kind: classify(err), Err: err}
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		return Result{}, genErr
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", int(resp.Usage.InputTokens)),
		attribute.Int("llm.tokens.output", int(resp.Usage.OutputTokens)),
	)
	return Result{
		Text:     strings.TrimSpace(resp.Text),
		Latency:  latency,
		Model:    model,
		Provider: provider,
		Usage:    resp.Usage,
	}, nil
}
