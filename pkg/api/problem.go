// Package api is the HTTP surface of the pipeline. Errors are RFC 7807
// problem documents.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/quorum"
)

// ProblemDetail implements RFC 7807.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes a problem document for the request.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://munin.local/errors/%d", status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  middleware.GetReqID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteTooManyRequests writes a 429 with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Retry after the specified interval.")
}

// StatusOf maps a domain error to an HTTP status.
func StatusOf(err error) int {
	switch quorum.KindOf(err) {
	case quorum.KindValidation:
		return http.StatusBadRequest
	case quorum.KindNotFound:
		return http.StatusNotFound
	case quorum.KindConflict:
		return http.StatusConflict
	case quorum.KindForbidden:
		return http.StatusForbidden
	case quorum.KindRateLimited:
		return http.StatusTooManyRequests
	case quorum.KindResource:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, contracts.ErrInvalidGraph),
		errors.Is(err, contracts.ErrInvalidIncident),
		errors.Is(err, contracts.ErrInvalidEvidence),
		errors.Is(err, cascade.ErrNoSeeds),
		errors.Is(err, cascade.ErrUnknownSeed),
		errors.Is(err, cascade.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, priority.ErrUnclassifiedAsset),
		errors.Is(err, audit.ErrEmptyBundle):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeDomainError writes err with its mapped status. Internal errors are
// logged and never exposed.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	switch status {
	case http.StatusInternalServerError:
		slog.Error("internal server error", "path", r.URL.Path, "error", err)
		WriteError(w, r, status, "An unexpected error occurred. Please try again later.")
	case http.StatusServiceUnavailable:
		slog.Error("dependency unavailable", "path", r.URL.Path, "error", err)
		WriteError(w, r, status, "A required backend is unavailable; nothing was changed.")
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "10")
		WriteError(w, r, status, err.Error())
	default:
		WriteError(w, r, status, err.Error())
	}
}
