package booking

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

const dateLayout = "2006-01-02"

// Agency is a bookable organisation with its own holiday calendar.
type Agency struct {
	events.Root

	Name          string                      `gorm:"column:name;not null" json:"name"`
	Email         string                      `gorm:"column:email;not null" json:"email"`
	DailyCapacity int                         `gorm:"column:daily_capacity;not null" json:"daily_capacity"`
	Holidays      datatypes.JSONSlice[string] `gorm:"column:holidays" json:"holidays"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (*Agency) TableName() string { return "agency" }

func NewAgency(name, email string, dailyCapacity int) (*Agency, error) {
	const op = "Booking.Agency.New"
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "name is required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "email is invalid", err)
	}
	if dailyCapacity < 1 {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "daily capacity must be >= 1", nil)
	}

	now := time.Now().UTC()
	a := &Agency{
		Name:          name,
		Email:         email,
		DailyCapacity: dailyCapacity,
		Holidays:      datatypes.JSONSlice[string]{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	a.ID = uuid.New()
	a.Version = 1
	a.Raise(&AgencyRegistered{
		Meta:          events.NewMeta(a.ID),
		Name:          name,
		Email:         email,
		DailyCapacity: dailyCapacity,
	})
	return a, nil
}

func (a *Agency) Rename(name string) error {
	const op = "Booking.Agency.Rename"
	name = strings.TrimSpace(name)
	if name == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "name is required", nil)
	}
	if name == a.Name {
		return nil
	}
	from := a.Name
	a.Name = name
	a.UpdatedAt = time.Now().UTC()
	a.Raise(&AgencyRenamed{Meta: events.NewMeta(a.ID), From: from, To: name})
	return nil
}

func (a *Agency) DeclareHoliday(day time.Time, label string) error {
	const op = "Booking.Agency.DeclareHoliday"
	if day.IsZero() {
		return domainagg.NewError(domainagg.CodeValidation, op, "holiday date is required", nil)
	}
	date := day.UTC().Format(dateLayout)
	if a.IsHoliday(day) {
		return domainagg.NewError(domainagg.CodeInvariantViolation, op, "holiday already declared for "+date, nil)
	}
	a.Holidays = append(a.Holidays, date)
	a.UpdatedAt = time.Now().UTC()
	a.Raise(&HolidayDeclared{Meta: events.NewMeta(a.ID), Date: date, Label: strings.TrimSpace(label)})
	return nil
}

func (a *Agency) IsHoliday(day time.Time) bool {
	date := day.UTC().Format(dateLayout)
	for _, h := range a.Holidays {
		if h == date {
			return true
		}
	}
	return false
}
