package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chtbtr/internal/domain"
	"chtbtr/internal/relay"
	"chtbtr/internal/rules"
	logx "chtbtr/pkg/logx"
)

// SentText is the body of a successful trigger response. Hook scripts
// match on it.
const SentText = "Message send!"

const defaultMaxBody = 1 << 20

// Relay processes one parsed trigger.
type Relay interface {
	Handle(ctx context.Context, ev domain.TriggerEvent) error
}

// HealthFunc reports component state for GET /health.
type HealthFunc func(ctx context.Context) any

type Handler struct {
	log     logx.Logger
	relay   Relay
	health  HealthFunc
	maxBody int64
}

func NewHandler(rl Relay, health HealthFunc, maxBody int64, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{log: log, relay: rl, health: health, maxBody: maxBody}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	r.Route("/trigger", func(r chi.Router) {
		r.Post("/comment_added", h.trigger(domain.KindCommentAdded, domain.KindPatchStatusChanged))
		r.Post("/reviewer_added", h.trigger(domain.KindReviewerAdded))
	})
	r.Get("/health", h.Health)
	return r
}

// trigger accepts a tagged trigger of one of the given kinds.
func (h *Handler) trigger(kinds ...domain.TriggerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			respondText(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		ev, err := domain.DecodeTrigger(body)
		if err != nil {
			respondText(w, http.StatusBadRequest, err.Error())
			return
		}
		if !slices.Contains(kinds, ev.Kind()) {
			respondText(w, http.StatusBadRequest, fmt.Sprintf("trigger %s is not accepted on %s", ev.Kind(), r.URL.Path))
			return
		}

		if err := h.relay.Handle(r.Context(), ev); err != nil {
			status, text := describe(err)
			if status >= http.StatusInternalServerError {
				h.log.Error("trigger failed", logx.String("trigger", string(ev.Kind())), logx.Err(err))
			}
			respondText(w, status, text)
			return
		}
		respondText(w, http.StatusOK, SentText)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if h.health != nil {
		payload["components"] = h.health(r.Context())
	}
	respondJSON(w, http.StatusOK, payload)
}

// describe maps a relay error to a status and the text shown to the hook.
func describe(err error) (int, string) {
	var (
		v   *rules.Violation
		ume *relay.UserMappingError
		rle *domain.RemoteLookupError
		pe  *domain.PersistenceError
	)
	switch {
	case errors.As(err, &v):
		return http.StatusOK, "Notification wasn't send due to settings: " + v.Error()
	case errors.As(err, &ume):
		text := fmt.Sprintf("Couldn't retrieve user information for %s: %v", ume.Username, ume.Err)
		switch {
		case errors.As(err, &rle):
			return http.StatusBadGateway, text
		case errors.As(err, &pe):
			return http.StatusInternalServerError, text
		}
		return http.StatusUnprocessableEntity, text
	case errors.As(err, &rle):
		return http.StatusBadGateway, "Error in controller: " + err.Error()
	}
	return http.StatusInternalServerError, "Error in controller: " + err.Error()
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
