package booking

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type AppointmentRepo interface {
	Create(dbc dbctx.Context, appt *booking.Appointment) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*booking.Appointment, error)
	// CountBookedOn counts agency's booked appointments on day's UTC date.
	CountBookedOn(dbc dbctx.Context, agencyID uuid.UUID, day time.Time) (int64, error)
	Save(dbc dbctx.Context, appt *booking.Appointment) error
}

type appointmentRepo struct {
	db    *gorm.DB
	guard aggregates.CASGuard
	log   *logger.Logger
}

func NewAppointmentRepo(db *gorm.DB, baseLog *logger.Logger) AppointmentRepo {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &appointmentRepo{
		db:    db,
		guard: aggregates.NewCASGuard(db),
		log:   baseLog.With("repo", "AppointmentRepo"),
	}
}

func (r *appointmentRepo) Create(dbc dbctx.Context, appt *booking.Appointment) error {
	const op = "booking.appointment.create"
	if appt == nil || appt.ID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "appointment with id is required", nil)
	}
	if appt.Version < 1 {
		appt.Version = 1
	}
	if err := dbc.DB(r.db).Create(appt).Error; err != nil {
		return aggregates.MapError(op, err)
	}
	return nil
}

func (r *appointmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*booking.Appointment, error) {
	var a booking.Appointment
	if err := dbc.DB(r.db).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, aggregates.MapError("booking.appointment.get", err)
	}
	return &a, nil
}

func (r *appointmentRepo) CountBookedOn(dbc dbctx.Context, agencyID uuid.UUID, day time.Time) (int64, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	var n int64
	if err := dbc.DB(r.db).
		Model(&booking.Appointment{}).
		Where("agency_id = ? AND status = ? AND slot_start >= ? AND slot_start < ?",
			agencyID, booking.AppointmentStatusBooked, start, end).
		Count(&n).Error; err != nil {
		return 0, aggregates.MapError("booking.appointment.count", err)
	}
	return n, nil
}

func (r *appointmentRepo) Save(dbc dbctx.Context, appt *booking.Appointment) error {
	const op = "booking.appointment.save"
	if appt == nil || appt.ID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "appointment with id is required", nil)
	}
	appt.UpdatedAt = time.Now().UTC()
	ok, err := r.guard.UpdateByVersion(dbc, appt.TableName(), appt.ID, appt.Version, map[string]any{
		"customer_email": appt.CustomerEmail,
		"slot_start":     appt.SlotStart,
		"status":         appt.Status,
		"updated_at":     appt.UpdatedAt,
	})
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if !ok {
		latest, lerr := r.GetByID(dbc, appt.ID)
		if lerr != nil && !domainagg.IsCode(lerr, domainagg.CodeNotFound) {
			return lerr
		}
		if latest == nil {
			return aggregates.ConflictAfterCASMiss(op, appt.TableName(), appt.ID, appt.Version, nil, 0, false)
		}
		return aggregates.ConflictAfterCASMiss(op, appt.TableName(), appt.ID, appt.Version, latest, latest.Version, true)
	}
	appt.Version++
	return nil
}
