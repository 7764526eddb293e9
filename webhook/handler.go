// Package webhook is the HTTP front door: it reads the raw signed bytes off
// the wire and hands them, with the relevant headers, to the dispatcher.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/dispatch"
)

// Receiver is the dispatch entry point the handler feeds.
type Receiver interface {
	Receive(ctx context.Context, body []byte, hdr dispatch.InboundHeaders) (*dispatch.Receipt, error)
}

// Handler serves the webhook endpoint.
type Handler struct {
	receiver Receiver
	maxBody  int64
	logger   *log.Logger
}

// NewHandler creates the webhook HTTP handler. maxBody caps the request body
// size; zero means 1 MiB.
func NewHandler(receiver Receiver, maxBody int64, logger *log.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if logger == nil {
		logger = internal.NewLogger("server")
	}
	return &Handler{receiver: receiver, maxBody: maxBody, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The signature covers the exact raw bytes, so the body must be kept
	// undecoded until every candidate secret has been checked.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	hdr := dispatch.InboundHeaders{
		EventType:  r.Header.Get("X-GitHub-Event"),
		DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		Signature:  r.Header.Get("X-Hub-Signature-256"),
	}

	receipt, err := h.receiver.Receive(r.Context(), body, hdr)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, "Invalid JSON")
		case errors.Is(err, dispatch.ErrNoRepository):
			writeError(w, http.StatusBadRequest, "No repository found in payload")
		case errors.Is(err, dispatch.ErrNoEventType):
			writeError(w, http.StatusBadRequest, "No event type specified")
		case errors.Is(err, dispatch.ErrMissingSignature):
			writeError(w, http.StatusUnauthorized, "Missing signature")
		case errors.Is(err, dispatch.ErrUnknownRepository):
			writeError(w, http.StatusNotFound, "Repository not configured")
		default:
			h.logger.Printf("webhook processing failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// HealthHandler answers liveness probes.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
