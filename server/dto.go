package server

import (
	"github.com/lxw15337674/memox-sub000/cache"
	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/search"
)

type SearchRequest struct {
	Query string `json:"query"`
}

type RelatedRequest struct {
	MemoID string `json:"memoId"`
}

type InsightsRequest struct {
	Limit *int `json:"limit,omitempty"`
}

// SearchPayload is the cached part of a search response.
type SearchPayload struct {
	Answer       string          `json:"answer"`
	ResultsCount int             `json:"resultsCount"`
	Sources      []search.Result `json:"sources"`
	KeyPoints    []string        `json:"keyPoints,omitempty"`
	Message      string          `json:"message,omitempty"`
}

type SearchResponse struct {
	SearchPayload
	ProcessingTime int64      `json:"processingTime"`
	Cache          cache.Meta `json:"cache"`
}

type RelatedPayload struct {
	RelatedMemos []search.Result `json:"relatedMemos"`
	Count        int             `json:"count"`
	Message      string          `json:"message,omitempty"`
}

type RelatedResponse struct {
	RelatedPayload
	ProcessingTime int64      `json:"processingTime"`
	Cache          cache.Meta `json:"cache"`
}

type InsightsPayload struct {
	Summary     string   `json:"summary"`
	Themes      []string `json:"themes"`
	Suggestions []string `json:"suggestions"`
	MemoCount   int      `json:"memoCount"`
	Message     string   `json:"message,omitempty"`
}

type InsightsResponse struct {
	InsightsPayload
	ProcessingTime int64      `json:"processingTime"`
	Cache          cache.Meta `json:"cache"`
}

type ErrorResponse struct {
	Error          string    `json:"error"`
	Code           core.Code `json:"code"`
	ProcessingTime int64     `json:"processingTime"`
}

type CacheClearResponse struct {
	Cleared bool `json:"cleared"`
}

// cache key parameters

type searchKey struct {
	Query string `json:"query"`
}

type relatedKey struct {
	MemoID string `json:"memoId"`
}

type insightsKey struct {
	Limit int `json:"limit"`
}
