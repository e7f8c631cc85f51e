package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docingest-backend/internal/http/response"
	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	pkgerrors "github.com/yungbote/docingest-backend/internal/pkg/errors"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
	"github.com/yungbote/docingest-backend/internal/search"
)

type FileHandler struct {
	log *logger.Logger
	svc Searcher
}

func NewFileHandler(log *logger.Logger, svc Searcher) *FileHandler {
	return &FileHandler{log: log.With("handler", "FileHandler"), svc: svc}
}

type fileResponse struct {
	ContentHash string `json:"content_hash"`
	search.File
}

// GET /api/files/:hash
func (h *FileHandler) GetFile(c *gin.Context) {
	hash := c.Param("hash")
	if !contentstore.ValidHash(hash) {
		response.RespondError(c, http.StatusBadRequest, "invalid_hash", pkgerrors.Invalid("hash must be 64 lowercase hex characters"))
		return
	}
	f, err := h.svc.File(c.Request.Context(), hash)
	if errors.Is(err, search.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		h.log.Error("File lookup failed", "error", err, "content_hash", hash)
		response.RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	response.RespondOK(c, fileResponse{ContentHash: hash, File: *f})
}
