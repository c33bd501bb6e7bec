package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ragqa/internal/domain"
)

const (
	defaultSearchK = 5
	maxSearchK     = 100
	maxBodyBytes   = 1 << 20
	defaultSource  = "api"
)

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type searchRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

type searchResult struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

type addRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"entries":   s.deps.Index.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := decodeStrict(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(c, domain.ErrEmptyQuery)
		return
	}
	ans, err := s.deps.Service.Ask(c.Request.Context(), req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, askResponse{Answer: ans.Text, Sources: ans.Sources})
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := decodeStrict(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	k := defaultSearchK
	if req.K != nil {
		k = *req.K
	}
	if k < 1 || k > maxSearchK {
		s.writeError(c, fmt.Errorf("%w: k must be between 1 and %d", domain.ErrInvalidArgument, maxSearchK))
		return
	}
	res, err := s.deps.Index.Retrieve(c.Request.Context(), req.Query, k)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]searchResult, len(res))
	for i, r := range res {
		out[i] = searchResult{Text: r.Text, Source: r.Source, Similarity: r.Score}
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) add(c *gin.Context) {
	var req addRequest
	if err := decodeStrict(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	if req.Source == "" {
		req.Source = defaultSource
	}
	ctx := c.Request.Context()
	if err := s.deps.Index.Add(ctx, req.Text, req.Source); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.deps.Index.Save(ctx); err != nil && !errors.Is(err, domain.ErrConfiguration) {
		s.deps.Log.WithError(err).Warn("index.save_failed")
	}
	c.JSON(http.StatusCreated, gin.H{"added": 1, "entries": s.deps.Index.Len()})
}

func (s *Server) rebuild(c *gin.Context) {
	stats, err := s.deps.Index.Build(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents":   stats.Documents,
		"chunks":      stats.Chunks,
		"duration_ms": stats.Duration.Milliseconds(),
	})
}

// decodeStrict decodes a single JSON object and rejects unknown fields.
func decodeStrict(c *gin.Context, dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", domain.ErrInvalidArgument, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidArgument, maxBodyBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", domain.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.deps.Log.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("http.request.failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query", "query must not be empty"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, domain.ErrEmptyCorpus):
		return http.StatusNotFound, "no_answer", "no answer available"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "a downstream service is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}
