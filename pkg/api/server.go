package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/pipeline"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/sources"
)

const maxBodyBytes = 8 << 20

// Server serves the pipeline over HTTP.
type Server struct {
	svc     *pipeline.Service
	limiter *IPRateLimiter
	logger  *slog.Logger
}

// NewServer creates a server. A nil limiter disables per-IP limiting.
func NewServer(svc *pipeline.Service, limiter *IPRateLimiter) *Server {
	return &Server{
		svc:     svc,
		limiter: limiter,
		logger:  slog.Default().With("component", "api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/cascades", s.simulate)
		r.Get("/assets/{id}", s.asset)

		r.Route("/packets", func(r chi.Router) {
			r.Post("/", s.propose)
			r.Get("/", s.listPackets)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getPacket)
				r.Get("/status", s.packetStatus)
				r.Post("/signatures", s.sign)
				r.Post("/reject", s.reject)
				r.Post("/execute", s.execute)
			})
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/verify", s.verifyLedger)
			r.Get("/entries", s.queryLedger)
			r.Get("/bundle", s.exportBundle)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// cascadeBody carries documents as raw JSON so they are schema-validated.
type cascadeBody struct {
	Graph     json.RawMessage           `json:"graph"`
	Seeds     []string                  `json:"seeds"`
	Emergency priority.EmergencyContext `json:"emergency"`
	Severity  cascade.Severity          `json:"severity"`
	Start     *time.Time                `json:"start,omitempty"`
}

func (b cascadeBody) request(ctx context.Context) (pipeline.CascadeRequest, error) {
	g, err := sources.Bytes("graph", b.Graph).Graph(ctx)
	if err != nil {
		return pipeline.CascadeRequest{}, err
	}
	start := time.Now().UTC()
	if b.Start != nil {
		start = *b.Start
	}
	sev := b.Severity
	if sev == "" {
		sev = cascade.SeverityMedium
	}
	return pipeline.CascadeRequest{
		Graph:     g,
		Seeds:     b.Seeds,
		Emergency: b.Emergency,
		Severity:  sev,
		Start:     start,
	}, nil
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	var body cascadeBody
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.request(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	tl, err := s.svc.Simulate(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *Server) asset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.svc.Registry().Get(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	level := priority.LevelPeacetime
	if q := r.URL.Query().Get("level"); q != "" {
		level, err = priority.ParseLevel(q)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classification": c,
		"level":          level,
		"adjustment":     priority.Adjust(c, level),
	})
}

// proposeBody either carries a cascade to simulate or a ready incident.
type proposeBody struct {
	cascadeBody
	IncidentID   string          `json:"incidentId"`
	IncidentType string          `json:"incidentType"`
	Incident     json.RawMessage `json:"incident,omitempty"`
	Evidence     json.RawMessage `json:"evidence"`
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request) {
	var body proposeBody
	if !decodeBody(w, r, &body) {
		return
	}
	ctx := r.Context()
	ev, err := sources.Bytes("evidence", body.Evidence).Evidence(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var prop *pipeline.Proposal
	if len(body.Incident) > 0 {
		var inc *contracts.Incident
		var g *contracts.Graph
		inc, err = sources.Bytes("incident", body.Incident).Incident(ctx)
		if err == nil {
			g, err = sources.Bytes("graph", body.Graph).Graph(ctx)
		}
		if err == nil {
			prop, err = s.svc.Submit(ctx, inc, g, ev)
		}
	} else {
		var req pipeline.CascadeRequest
		req, err = body.request(ctx)
		if err == nil {
			prop, err = s.svc.Propose(ctx, pipeline.ProposeRequest{
				CascadeRequest: req,
				IncidentID:     body.IncidentID,
				IncidentType:   body.IncidentType,
				Evidence:       ev,
			})
		}
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, prop)
}

func (s *Server) listPackets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Engine().List())
}

func (s *Server) getPacket(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Engine().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) packetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Engine().Status(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type signBody struct {
	SignerGroup   string                   `json:"signerGroup"`
	Signature     contracts.Signature      `json:"signature"`
	IdentityProof *contracts.IdentityProof `json:"identityProof,omitempty"`
}

func (s *Server) sign(w http.ResponseWriter, r *http.Request) {
	var body signBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SignerGroup == "" {
		WriteError(w, r, http.StatusBadRequest, "signerGroup is required")
		return
	}
	id := chi.URLParam(r, "id")
	authorized, err := s.svc.Sign(r.Context(), id, body.SignerGroup, body.Signature, body.IdentityProof)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := s.svc.Engine().Status(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorized": authorized, "status": st})
}

type actorBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Actor == "" {
		WriteError(w, r, http.StatusBadRequest, "actor is required")
		return
	}
	if err := s.svc.Reject(r.Context(), chi.URLParam(r, "id"), body.Actor, body.Reason); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Actor == "" {
		WriteError(w, r, http.StatusBadRequest, "actor is required")
		return
	}
	if err := s.svc.Execute(r.Context(), chi.URLParam(r, "id"), body.Actor); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyLedger(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Ledger().VerifyChain(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func filterFrom(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{PacketID: q.Get("packetId"), Action: audit.Action(q.Get("action"))}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", l)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) queryLedger(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Ledger().Query(f))
}

func (s *Server) exportBundle(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.svc.Ledger().ExportBundle(f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
