package booking

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

const (
	AppointmentStatusBooked    = "booked"
	AppointmentStatusCancelled = "cancelled"
)

// Appointment is one customer's reservation of an agency slot.
type Appointment struct {
	events.Root

	AgencyID      uuid.UUID `gorm:"type:uuid;column:agency_id;not null;index" json:"agency_id"`
	CustomerEmail string    `gorm:"column:customer_email;not null" json:"customer_email"`
	SlotStart     time.Time `gorm:"column:slot_start;not null;index" json:"slot_start"`
	// booked|cancelled
	Status string `gorm:"column:status;not null;index" json:"status"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (*Appointment) TableName() string { return "appointment" }

// BookAppointment reserves slot at agency. Slots on declared holidays are refused.
func BookAppointment(agency *Agency, customerEmail string, slot time.Time) (*Appointment, error) {
	const op = "Booking.Appointment.Book"
	if agency == nil || agency.ID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "agency is required", nil)
	}
	customerEmail = strings.TrimSpace(customerEmail)
	if _, err := mail.ParseAddress(customerEmail); err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "customer email is invalid", err)
	}
	if slot.IsZero() {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "slot is required", nil)
	}
	if agency.IsHoliday(slot) {
		return nil, domainagg.NewError(domainagg.CodeInvariantViolation, op, "slot falls on an agency holiday", nil)
	}

	now := time.Now().UTC()
	a := &Appointment{
		AgencyID:      agency.ID,
		CustomerEmail: customerEmail,
		SlotStart:     slot.UTC(),
		Status:        AppointmentStatusBooked,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	a.ID = uuid.New()
	a.Version = 1
	a.Raise(&AppointmentBooked{
		Meta:          events.NewMeta(a.ID),
		AgencyID:      agency.ID,
		CustomerEmail: customerEmail,
		SlotStart:     a.SlotStart,
	})
	return a, nil
}

func (a *Appointment) Cancel(reason string) error {
	const op = "Booking.Appointment.Cancel"
	if a.Status == AppointmentStatusCancelled {
		return domainagg.NewError(domainagg.CodeInvariantViolation, op, "appointment already cancelled", nil)
	}
	a.Status = AppointmentStatusCancelled
	a.UpdatedAt = time.Now().UTC()
	a.Raise(&AppointmentCancelled{
		Meta:          events.NewMeta(a.ID),
		AgencyID:      a.AgencyID,
		CustomerEmail: a.CustomerEmail,
		Reason:        strings.TrimSpace(reason),
	})
	return nil
}
