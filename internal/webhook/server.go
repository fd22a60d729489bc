// Package webhook serves the GitHub App webhook endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"blockci-gh/internal/auth"
	"blockci-gh/internal/ctxlog"
	"blockci-gh/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v68/github"
)

const (
	EventPath = "/event_handler"

	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"

	// GitHub caps webhook payloads at 25MB
	maxPayloadBytes = 25 << 20
)

var (
	ErrMissingSignature    = errors.New("missing signature")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrMissingEvent        = errors.New("missing event type")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrMissingInstallation = errors.New("missing installation id")
)

// EventHandler acts on a verified event with an installation scoped client.
type EventHandler interface {
	Handle(ctx context.Context, api handler.GitHubAPI, ev handler.Event) (handler.Outcome, error)
}

// Recorder keeps an audit trail of handled deliveries.
type Recorder interface {
	Record(ctx context.Context, ev handler.Event, out handler.Outcome, handleErr error)
}

type Config struct {
	App           auth.AppConfig
	WebhookSecret []byte
}

type server struct {
	secret   []byte
	client   auth.InstallationAuthenticator
	handler  EventHandler
	recorder Recorder
	logger   *slog.Logger
}

// Router authenticates as the App and returns the webhook HTTP handler.
// rec may be nil.
func Router(ctx context.Context, cfg Config, authn auth.AppAuthenticator, h EventHandler, rec Recorder) (http.Handler, error) {
	if len(cfg.WebhookSecret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	client, err := authn.AuthenticateApp(ctx, cfg.App)
	if err != nil {
		return nil, err
	}

	s := &server{
		secret:   cfg.WebhookSecret,
		client:   client,
		handler:  h,
		recorder: rec,
		logger:   ctxlog.FromContext(ctx),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withLogger)
	r.Use(middleware.Recoverer)

	r.HandleFunc(EventPath, s.handleEvent)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	return r, nil
}

func (s *server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctxlog.WithLogger(r.Context(), logger)))
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ctxlog.FromContext(ctx)

	ev, err := readEvent(w, r, s.secret)
	if err != nil {
		logger.Warn("rejected delivery", "err", err)
		writeText(w, http.StatusBadRequest, rejectMessage(err))
		return
	}
	logger = logger.With("event", ev.Kind, "delivery", ev.DeliveryID, "installation", ev.InstallationID)
	ctx = ctxlog.WithLogger(ctx, logger)

	api, err := s.client.ForInstallation(ctx, ev.InstallationID)
	if err != nil {
		logger.Error("unable to authenticate installation", "err", err)
		writeText(w, http.StatusInternalServerError, "unable to authenticate installation")
		return
	}

	out, err := s.handler.Handle(ctx, api, ev)
	if s.recorder != nil {
		s.recorder.Record(ctx, ev, out, err)
	}
	if err != nil {
		logger.Error("failed to handle event", "err", err)
		writeText(w, http.StatusInternalServerError, "failed to handle event")
		return
	}
	logger.Info("event handled", "outcome", out.String())
	writeText(w, http.StatusOK, "hello world")
}

// readEvent verifies the signature of the delivery and extracts the event.
func readEvent(w http.ResponseWriter, r *http.Request, secret []byte) (handler.Event, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		return handler.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	sig := r.Header.Get(headerSignature)
	if sig == "" {
		return handler.Event{}, ErrMissingSignature
	}
	if err := github.ValidateSignature(sig, body, secret); err != nil {
		return handler.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	kind := handler.Kind(r.Header.Get(headerEvent))
	if kind == "" {
		return handler.Event{}, ErrMissingEvent
	}

	var envelope struct {
		Installation *struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return handler.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if envelope.Installation == nil || envelope.Installation.ID == 0 {
		return handler.Event{}, ErrMissingInstallation
	}

	return handler.Event{
		Kind:           kind,
		DeliveryID:     r.Header.Get(headerDelivery),
		InstallationID: envelope.Installation.ID,
		Payload:        body,
	}, nil
}

func rejectMessage(err error) string {
	for _, known := range []error{ErrMissingSignature, ErrInvalidSignature, ErrMissingEvent, ErrMissingInstallation, ErrInvalidPayload} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "bad request"
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}
