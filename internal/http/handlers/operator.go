package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/response"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/services"
)

type OperatorHandler struct {
	svc services.OperatorService
}

func NewOperatorHandler(svc services.OperatorService) *OperatorHandler {
	return &OperatorHandler{svc: svc}
}

// GET /admin/outbox/exhausted?limit=
func (h *OperatorHandler) ListExhausted(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	msgs, err := h.svc.ListExhausted(c.Request.Context(), limit)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs})
}

// POST /admin/outbox/:id/requeue
func (h *OperatorHandler) Requeue(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msg, err := h.svc.Requeue(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": msg})
}

// GET /admin/events/:aggregate_id
func (h *OperatorHandler) History(c *gin.Context) {
	id, ok := pathID(c, "aggregate_id")
	if !ok {
		return
	}
	recs, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"events": recs})
}
