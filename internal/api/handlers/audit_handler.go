package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/platform/audit"
)

type AuditHandler struct {
	logger *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	logs, err := h.logger.List(r.Context(), limit)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to list audit logs")
		errors.Internal(w, "Database error")
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"audit_logs": logs})
}
