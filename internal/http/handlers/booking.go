package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/response"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/services"
)

type BookingHandler struct {
	svc services.BookingService
}

func NewBookingHandler(svc services.BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

type registerAgencyRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	DailyCapacity int    `json:"daily_capacity"`
}

type renameAgencyRequest struct {
	Name            string `json:"name"`
	ExpectedVersion int    `json:"expected_version"`
}

type declareHolidayRequest struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

type bookAppointmentRequest struct {
	AgencyID      string    `json:"agency_id"`
	CustomerEmail string    `json:"customer_email"`
	SlotStart     time.Time `json:"slot_start"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

// writeResult answers a write. A committed write whose handlers failed is still a
// success; the failures are reported next to the resource.
func writeResult(c *gin.Context, status int, key string, resource any, err error) {
	if err != nil {
		failures, ok := response.Committed(err)
		if !ok {
			response.RespondDomainError(c, err)
			return
		}
		c.JSON(status, gin.H{key: resource, "handler_failures": failures})
		return
	}
	c.JSON(status, gin.H{key: resource})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /agencies
func (h *BookingHandler) RegisterAgency(c *gin.Context) {
	var req registerAgencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	agency, err := h.svc.RegisterAgency(c.Request.Context(), services.RegisterAgencyInput{
		Name:          req.Name,
		Email:         req.Email,
		DailyCapacity: req.DailyCapacity,
	})
	writeResult(c, http.StatusCreated, "agency", agency, err)
}

// GET /agencies
func (h *BookingHandler) ListAgencies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	agencies, err := h.svc.ListAgencies(c.Request.Context(), limit)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"agencies": agencies})
}

// GET /agencies/:id
func (h *BookingHandler) GetAgency(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	agency, err := h.svc.GetAgency(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"agency": agency})
}

// PATCH /agencies/:id
func (h *BookingHandler) RenameAgency(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req renameAgencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	agency, err := h.svc.RenameAgency(c.Request.Context(), id, req.Name, req.ExpectedVersion)
	writeResult(c, http.StatusOK, "agency", agency, err)
}

// POST /agencies/:id/holidays
func (h *BookingHandler) DeclareHoliday(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req declareHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	agency, err := h.svc.DeclareHoliday(c.Request.Context(), id, day, req.Label)
	writeResult(c, http.StatusOK, "agency", agency, err)
}

// POST /appointments
func (h *BookingHandler) BookAppointment(c *gin.Context) {
	var req bookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	agencyID, err := uuid.Parse(req.AgencyID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_agency_id", err)
		return
	}
	appt, err := h.svc.BookAppointment(c.Request.Context(), services.BookAppointmentInput{
		AgencyID:      agencyID,
		CustomerEmail: req.CustomerEmail,
		SlotStart:     req.SlotStart,
	})
	writeResult(c, http.StatusCreated, "appointment", appt, err)
}

// GET /appointments/:id
func (h *BookingHandler) GetAppointment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"appointment": appt})
}

// POST /appointments/:id/cancel
func (h *BookingHandler) CancelAppointment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelAppointmentRequest
	// Body is optional.
	_ = c.ShouldBindJSON(&req)
	appt, err := h.svc.CancelAppointment(c.Request.Context(), id, req.Reason)
	writeResult(c, http.StatusOK, "appointment", appt, err)
}
