package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lxw15337674/memox-sub000/cache"
	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/search"
)

const (
	maxBodyBytes = 1 << 20

	msgNoSearchResults  = "No memos are similar enough to this query."
	msgNoRelatedResults = "No related memos found."
	msgNoMemos          = "There are no memos to analyze yet."
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req SearchRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, start, err)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeError(w, start, core.NewError(core.CodeInvalidInput, "query is required", nil))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	payload, meta, err := cache.WithCache(ctx, s.cache, s.opSearch, searchKey{Query: query},
		func(ctx context.Context) (SearchPayload, error) {
			return s.searchMemos(ctx, query)
		})
	if err != nil {
		s.writeError(w, start, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		SearchPayload:  payload,
		ProcessingTime: elapsedMS(start),
		Cache:          meta,
	})
}

func (s *Server) searchMemos(ctx context.Context, query string) (SearchPayload, error) {
	vec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return SearchPayload{}, err
	}
	rows, err := s.searcher.FindByQuery(ctx, vec, s.search.TopK, s.search.MaxDistance)
	if err != nil {
		return SearchPayload{}, err
	}
	results := s.formatter.Format(rows)
	if len(results) == 0 {
		return SearchPayload{Sources: []search.Result{}, Message: msgNoSearchResults}, nil
	}

	ans, err := s.assistant.Answer(ctx, query, results)
	if err != nil {
		return SearchPayload{}, err
	}
	return SearchPayload{
		Answer:       ans.Text,
		ResultsCount: len(results),
		Sources:      results,
		KeyPoints:    ans.KeyPoints,
	}, nil
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RelatedRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, start, err)
		return
	}
	id := strings.TrimSpace(req.MemoID)
	if id == "" {
		s.writeError(w, start, core.NewError(core.CodeInvalidInput, "memoId is required", nil))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	payload, meta, err := cache.WithCache(ctx, s.cache, s.opRelated, relatedKey{MemoID: id},
		func(ctx context.Context) (RelatedPayload, error) {
			return s.relatedMemos(ctx, id)
		})
	if err != nil {
		s.writeError(w, start, err)
		return
	}

	writeJSON(w, http.StatusOK, RelatedResponse{
		RelatedPayload: payload,
		ProcessingTime: elapsedMS(start),
		Cache:          meta,
	})
}

func (s *Server) relatedMemos(ctx context.Context, id string) (RelatedPayload, error) {
	vec, err := s.embeddings.GetOrCreate(ctx, id)
	if err != nil {
		return RelatedPayload{}, err
	}
	rows, err := s.searcher.FindRelated(ctx, id, vec, s.related.TopK, s.related.MaxDistance)
	if err != nil {
		return RelatedPayload{}, err
	}
	results := s.formatter.Format(rows)
	p := RelatedPayload{RelatedMemos: results, Count: len(results)}
	if len(results) == 0 {
		p.Message = msgNoRelatedResults
	}
	return p, nil
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req InsightsRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, start, err)
		return
	}
	limit := s.insightsLimit
	if req.Limit != nil {
		if *req.Limit <= 0 {
			s.writeError(w, start, core.NewError(core.CodeInvalidInput, "limit must be positive", nil))
			return
		}
		limit = min(*req.Limit, maxInsightsLimit)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	payload, meta, err := cache.WithCache(ctx, s.cache, s.opInsights, insightsKey{Limit: limit},
		func(ctx context.Context) (InsightsPayload, error) {
			memos, err := s.memos.ListRecent(ctx, limit)
			if err != nil {
				return InsightsPayload{}, err
			}
			if len(memos) == 0 {
				return InsightsPayload{Themes: []string{}, Suggestions: []string{}, Message: msgNoMemos}, nil
			}
			ins, err := s.assistant.Insights(ctx, memos)
			if err != nil {
				return InsightsPayload{}, err
			}
			return InsightsPayload{
				Summary:     ins.Summary,
				Themes:      ins.Themes,
				Suggestions: ins.Suggestions,
				MemoCount:   len(memos),
			}, nil
		})
	if err != nil {
		s.writeError(w, start, err)
		return
	}

	writeJSON(w, http.StatusOK, InsightsResponse{
		InsightsPayload: payload,
		ProcessingTime:  elapsedMS(start),
		Cache:           meta,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.cache.Clear(r.Context()); err != nil {
		s.writeError(w, start, err)
		return
	}
	s.logger.Info("response cache cleared")
	writeJSON(w, http.StatusOK, CacheClearResponse{Cleared: true})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

// decodeBody reads a JSON request body. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return core.NewError(core.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, start time.Time, err error) {
	code := core.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	} else {
		s.logger.Debug("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:          err.Error(),
		Code:           code,
		ProcessingTime: elapsedMS(start),
	})
}

func statusFor(code core.Code) int {
	switch code {
	case core.CodeInvalidInput:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeEmptyContent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
