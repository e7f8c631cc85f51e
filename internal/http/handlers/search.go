package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docingest-backend/internal/http/response"
	pkgerrors "github.com/yungbote/docingest-backend/internal/pkg/errors"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/search"
)

type Searcher interface {
	Search(ctx context.Context, queries []string, limit int) ([]search.Result, error)
	File(ctx context.Context, hash string) (*search.File, error)
}

var _ Searcher = (*search.Service)(nil)

const defaultSearchLimit = 10

type SearchHandler struct {
	log *logger.Logger
	svc Searcher
}

func NewSearchHandler(log *logger.Logger, svc Searcher) *SearchHandler {
	return &SearchHandler{log: log.With("handler", "SearchHandler"), svc: svc}
}

type searchRequest struct {
	Queries []string `json:"queries"`
	Query   string   `json:"query"`
	Limit   int      `json:"limit"`
}

type searchResponse struct {
	Queries []string        `json:"queries"`
	Results []search.Result `json:"results"`
}

// GET /api/search?q=...&q=...&limit=N
func (h *SearchHandler) Search(c *gin.Context) {
	limit := defaultSearchLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", pkgerrors.Invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	h.run(c, c.QueryArray("q"), limit)
}

// POST /api/search {"queries": [...], "limit": N}
func (h *SearchHandler) SearchJSON(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	queries := req.Queries
	if req.Query != "" {
		queries = append(queries, req.Query)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	h.run(c, queries, limit)
}

func (h *SearchHandler) run(c *gin.Context, queries []string, limit int) {
	results, err := h.svc.Search(c.Request.Context(), queries, limit)
	if errors.Is(err, pkgerrors.ErrInvalidArgument) {
		response.RespondError(c, http.StatusBadRequest, "missing_query", err)
		return
	}
	if err != nil {
		h.log.Error("Search failed", "error", err, "queries", len(queries))
		response.RespondError(c, http.StatusBadGateway, "search_failed", err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	response.RespondOK(c, searchResponse{Queries: queries, Results: results})
}
