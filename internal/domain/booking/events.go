package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

const (
	KindAgencyRegistered     = "agency.registered"
	KindAgencyRenamed        = "agency.renamed"
	KindHolidayDeclared      = "agency.holiday_declared"
	KindAppointmentBooked    = "appointment.booked"
	KindAppointmentCancelled = "appointment.cancelled"
)

type AgencyRegistered struct {
	events.Meta
	Name          string `json:"name"`
	Email         string `json:"email"`
	DailyCapacity int    `json:"daily_capacity"`
}

func (*AgencyRegistered) Kind() string { return KindAgencyRegistered }

type AgencyRenamed struct {
	events.Meta
	From string `json:"from"`
	To   string `json:"to"`
}

func (*AgencyRenamed) Kind() string { return KindAgencyRenamed }

type HolidayDeclared struct {
	events.Meta
	Date  string `json:"date"`
	Label string `json:"label"`
}

func (*HolidayDeclared) Kind() string { return KindHolidayDeclared }

type AppointmentBooked struct {
	events.Meta
	AgencyID      uuid.UUID `json:"agency_id"`
	CustomerEmail string    `json:"customer_email"`
	SlotStart     time.Time `json:"slot_start"`
}

func (*AppointmentBooked) Kind() string { return KindAppointmentBooked }

type AppointmentCancelled struct {
	events.Meta
	AgencyID      uuid.UUID `json:"agency_id"`
	CustomerEmail string    `json:"customer_email"`
	Reason        string    `json:"reason"`
}

func (*AppointmentCancelled) Kind() string { return KindAppointmentCancelled }

// RegisterKinds adds every booking event to k.
func RegisterKinds(k *events.Kinds) {
	k.MustRegister(KindAgencyRegistered, func() events.Event { return &AgencyRegistered{} })
	k.MustRegister(KindAgencyRenamed, func() events.Event { return &AgencyRenamed{} })
	k.MustRegister(KindHolidayDeclared, func() events.Event { return &HolidayDeclared{} })
	k.MustRegister(KindAppointmentBooked, func() events.Event { return &AppointmentBooked{} })
	k.MustRegister(KindAppointmentCancelled, func() events.Event { return &AppointmentCancelled{} })
}
