package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avezina/docent/internal/cache"
	"github.com/avezina/docent/internal/llm"
	"github.com/avezina/docent/internal/research"
)

type researchRequest struct {
	Query         string   `json:"query"`
	NumResults    int      `json:"num_results,omitempty"`
	IncludeText   *bool    `json:"include_text,omitempty"`
	IncludeVisual *bool    `json:"include_visual,omitempty"`
	Preprocess    string   `json:"preprocess,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := research.AskOptions{
		NumResults:    req.NumResults,
		IncludeText:   true,
		IncludeVisual: true,
		Mode:          s.defaults.Mode,
		Threshold:     s.defaults.Threshold,
	}
	if req.IncludeText != nil {
		opts.IncludeText = *req.IncludeText
	}
	if req.IncludeVisual != nil {
		opts.IncludeVisual = *req.IncludeVisual
	}
	if req.Preprocess != "" {
		opts.Mode = req.Preprocess
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	s.logger.Debug("research request",
		zap.String("query", req.Query),
		zap.String("preprocess", opts.Mode))

	key := cache.AnswerKey(req.Query, optionsFingerprint(opts))
	if s.answers != nil {
		if data, found := s.answers.Get(key); found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Query, opts)
	if err != nil {
		s.respondLLMError(w, err)
		return
	}

	if s.answers != nil {
		if data, err := json.Marshal(answer); err == nil {
			ttl := time.Duration(s.config.CacheTTL) * time.Second
			if err := s.answers.Set(key, data, ttl); err != nil {
				s.logger.Warn("answer cache write failed", zap.Error(err))
			}
		}
	}

	s.respondJSON(w, http.StatusOK, answer)
}

// optionsFingerprint folds the retrieval options into the cache key so two
// requests with the same query but different options never collide.
func optionsFingerprint(opts research.AskOptions) string {
	return fmt.Sprintf("%d|%t|%t|%s|%.2f",
		opts.NumResults, opts.IncludeText, opts.IncludeVisual, opts.Mode, opts.Threshold)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondLLMError maps the provider error taxonomy onto HTTP status
// semantics. Anything untyped is a plain 500.
func (s *Server) respondLLMError(w http.ResponseWriter, err error) {
	var rateErr *llm.RateLimitError
	var timeoutErr *llm.TimeoutError
	var authErr *llm.AuthError
	var ctxErr *llm.ContextLengthError

	switch {
	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			secs := int(rateErr.RetryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &timeoutErr):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &authErr):
		s.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &ctxErr):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.logger.Error("research failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
