package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/pipeline"
)

// Server exposes the analyze endpoint.
type Server struct {
	orchestrator *pipeline.Orchestrator
	server       *http.Server
	log          *slog.Logger
}

type analyzeRequest struct {
	Prompt   string `json:"prompt"`
	ClientID string `json:"client_id"`

	MetaProviders []string `json:"meta_providers,omitempty"`
	HyperPriority []string `json:"hyper_priority,omitempty"`
	UltraPriority []string `json:"ultra_priority,omitempty"`
}

type analyzeResponse struct {
	Answer        string            `json:"answer"`
	Initial       map[string]string `json:"initial"`
	Meta          map[string]string `json:"meta"`
	Hyper         string            `json:"hyper,omitempty"`
	Ultra         string            `json:"ultra,omitempty"`
	HyperProvider string            `json:"hyper_provider,omitempty"`
	UltraProvider string            `json:"ultra_provider,omitempty"`
	Degraded      []string          `json:"degraded_stages,omitempty"`
	ElapsedMillis int64             `json:"elapsed_ms"`
}

// NewServer creates the API server.
func NewServer(orchestrator *pipeline.Orchestrator, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		orchestrator: orchestrator,
		log:          log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClientID == "" {
		req.ClientID = r.RemoteAddr
	}

	start := time.Now()
	result, err := s.orchestrator.Run(r.Context(), pipeline.Request{
		Prompt:   req.Prompt,
		ClientID: req.ClientID,
		Pattern: domain.PatternConfig{
			MetaProviders: toProviders(req.MetaProviders),
			HyperPriority: toProviders(req.HyperPriority),
			UltraPriority: toProviders(req.UltraPriority),
		},
	})
	if err != nil {
		var ve *domain.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.Is(err, domain.ErrNoProvidersAvailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.log.Error("analyze failed", "error", err, "elapsed", time.Since(start))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := analyzeResponse{
		Answer:        result.Best(),
		Initial:       toStrings(result.Initial),
		Meta:          toStrings(result.Meta),
		Hyper:         result.Hyper,
		Ultra:         result.Ultra,
		HyperProvider: result.HyperProvider.String(),
		UltraProvider: result.UltraProvider.String(),
		ElapsedMillis: result.Elapsed.Milliseconds(),
	}
	for _, st := range result.Degraded {
		resp.Degraded = append(resp.Degraded, string(st))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func toProviders(names []string) []domain.ProviderID {
	out := make([]domain.ProviderID, 0, len(names))
	for _, n := range names {
		out = append(out, domain.ProviderID(n))
	}
	return out
}

func toStrings(r domain.StageResult) map[string]string {
	out := make(map[string]string, len(r))
	for p, v := range r {
		out[p.String()] = v
	}
	return out
}
