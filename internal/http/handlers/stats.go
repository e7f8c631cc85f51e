package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	contentrepo "github.com/yungbote/docingest-backend/internal/data/repos/content"
	"github.com/yungbote/docingest-backend/internal/http/response"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type StatsSource interface {
	Stats(dbc dbctx.Context) (*contentrepo.Stats, error)
}

type StatsHandler struct {
	log   *logger.Logger
	stats StatsSource
}

func NewStatsHandler(log *logger.Logger, stats StatsSource) *StatsHandler {
	return &StatsHandler{log: log.With("handler", "StatsHandler"), stats: stats}
}

// GET /api/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	st, err := h.stats.Stats(dbctx.Of(c.Request.Context()))
	if err != nil {
		h.log.Error("Stats failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	response.RespondOK(c, st)
}
