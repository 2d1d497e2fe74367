package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	repos "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/booking"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type RegisterAgencyInput struct {
	Name          string
	Email         string
	DailyCapacity int
}

type BookAppointmentInput struct {
	AgencyID      uuid.UUID
	CustomerEmail string
	SlotStart     time.Time
}

// BookingService runs booking use cases. Every mutation commits through the
// commit gate, so the state change, its event store records and the handler
// fan-out happen together. A returned error that unwraps to *dispatch.Error means
// the change was committed but some handler failed and was parked in the outbox.
type BookingService interface {
	RegisterAgency(ctx context.Context, in RegisterAgencyInput) (*booking.Agency, error)
	RenameAgency(ctx context.Context, agencyID uuid.UUID, name string, expectedVersion int) (*booking.Agency, error)
	DeclareHoliday(ctx context.Context, agencyID uuid.UUID, day time.Time, label string) (*booking.Agency, error)
	BookAppointment(ctx context.Context, in BookAppointmentInput) (*booking.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) (*booking.Appointment, error)
	GetAgency(ctx context.Context, agencyID uuid.UUID) (*booking.Agency, error)
	ListAgencies(ctx context.Context, limit int) ([]*booking.Agency, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*booking.Appointment, error)
}

type bookingService struct {
	agencies     repos.AgencyRepo
	appointments repos.AppointmentRepo
	gate         *commit.Gate
	retry        aggregates.RetryConfig
	log          *logger.Logger
}

func NewBookingService(
	baseLog *logger.Logger,
	agencies repos.AgencyRepo,
	appointments repos.AppointmentRepo,
	gate *commit.Gate,
	retry aggregates.RetryConfig,
) BookingService {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &bookingService{
		agencies:     agencies,
		appointments: appointments,
		gate:         gate,
		retry:        retry,
		log:          baseLog.With("service", "BookingService"),
	}
}

func (s *bookingService) retryConfig(op string) aggregates.RetryConfig {
	cfg := s.retry
	cfg.Op = op
	return cfg
}

// commit runs write through the gate. Inside a handler that is itself part of a
// running commit, the write joins that commit's next round instead.
func (s *bookingService) commit(ctx context.Context, write commit.Write, sources ...events.Source) error {
	scope := commit.ScopeFrom(ctx)
	if scope == nil || scope.Depth() == 0 {
		scope = commit.NewScope()
	}
	scope.Track(sources...)
	_, err := s.gate.Commit(ctx, scope, write)
	return err
}

func (s *bookingService) RegisterAgency(ctx context.Context, in RegisterAgencyInput) (*booking.Agency, error) {
	const op = "Booking.RegisterAgency"
	agency, err := booking.NewAgency(in.Name, in.Email, in.DailyCapacity)
	if err != nil {
		return nil, err
	}
	err = aggregates.Retry(ctx, s.retryConfig(op), func(ctx context.Context) error {
		return s.commit(ctx, func(dbc dbctx.Context) (int64, error) {
			if err := s.agencies.Create(dbc, agency); err != nil {
				return 0, err
			}
			return 1, nil
		}, agency)
	})
	if err != nil && !committed(err) {
		s.log.Ctx(ctx).Warn("register agency failed", "error", err)
		return nil, err
	}
	s.log.Ctx(ctx).Info("agency registered", "agency_id", agency.ID)
	return agency, err
}

func (s *bookingService) RenameAgency(ctx context.Context, agencyID uuid.UUID, name string, expectedVersion int) (*booking.Agency, error) {
	const op = "Booking.RenameAgency"
	return s.mutateAgency(ctx, op, agencyID, expectedVersion, func(a *booking.Agency) error {
		return a.Rename(name)
	})
}

func (s *bookingService) DeclareHoliday(ctx context.Context, agencyID uuid.UUID, day time.Time, label string) (*booking.Agency, error) {
	const op = "Booking.DeclareHoliday"
	return s.mutateAgency(ctx, op, agencyID, 0, func(a *booking.Agency) error {
		return a.DeclareHoliday(day, label)
	})
}

// mutateAgency reloads the agency on every attempt so a version conflict re-runs
// the change against the latest row. expectedVersion > 0 pins the caller's view:
// a mismatch is reported instead of retried.
func (s *bookingService) mutateAgency(ctx context.Context, op string, agencyID uuid.UUID, expectedVersion int, change func(*booking.Agency) error) (*booking.Agency, error) {
	var out *booking.Agency
	err := aggregates.Retry(ctx, s.retryConfig(op), func(ctx context.Context) error {
		agency, err := s.agencies.GetByID(dbctx.Context{Ctx: ctx}, agencyID)
		if err != nil {
			return err
		}
		if expectedVersion > 0 {
			if err := aggregates.RequireVersionMatch(agency.Version, expectedVersion); err != nil {
				return domainagg.NewError(domainagg.CodePreconditionFailed, op, err.Error(), err)
			}
		}
		if err := change(agency); err != nil {
			return err
		}
		out = agency
		if len(agency.PendingEvents()) == 0 {
			return nil
		}
		return s.commit(ctx, func(dbc dbctx.Context) (int64, error) {
			if err := s.agencies.Save(dbc, agency); err != nil {
				return 0, err
			}
			return 1, nil
		}, agency)
	})
	if err != nil && !committed(err) {
		return nil, err
	}
	return out, err
}

// BookAppointment refuses slots on holidays and days already at capacity. The
// agency row is saved in the same commit so concurrent bookings for one agency
// conflict on its version and re-check capacity.
func (s *bookingService) BookAppointment(ctx context.Context, in BookAppointmentInput) (*booking.Appointment, error) {
	const op = "Booking.BookAppointment"
	var out *booking.Appointment
	err := aggregates.Retry(ctx, s.retryConfig(op), func(ctx context.Context) error {
		agency, err := s.agencies.GetByID(dbctx.Context{Ctx: ctx}, in.AgencyID)
		if err != nil {
			return err
		}
		appt, err := booking.BookAppointment(agency, in.CustomerEmail, in.SlotStart)
		if err != nil {
			return err
		}
		err = s.commit(ctx, func(dbc dbctx.Context) (int64, error) {
			booked, err := s.appointments.CountBookedOn(dbc, agency.ID, appt.SlotStart)
			if err != nil {
				return 0, err
			}
			if booked >= int64(agency.DailyCapacity) {
				return 0, domainagg.NewError(domainagg.CodePreconditionFailed, op,
					"agency is fully booked on "+appt.SlotStart.Format("2006-01-02"), nil)
			}
			if err := s.agencies.Save(dbc, agency); err != nil {
				return 0, err
			}
			if err := s.appointments.Create(dbc, appt); err != nil {
				return 0, err
			}
			return 2, nil
		}, appt)
		out = appt
		return err
	})
	if err != nil && !committed(err) {
		return nil, err
	}
	s.log.Ctx(ctx).Info("appointment booked", "appointment_id", out.ID, "agency_id", out.AgencyID)
	return out, err
}

func (s *bookingService) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) (*booking.Appointment, error) {
	const op = "Booking.CancelAppointment"
	var out *booking.Appointment
	err := aggregates.Retry(ctx, s.retryConfig(op), func(ctx context.Context) error {
		appt, err := s.appointments.GetByID(dbctx.Context{Ctx: ctx}, appointmentID)
		if err != nil {
			return err
		}
		if err := appt.Cancel(reason); err != nil {
			return err
		}
		out = appt
		return s.commit(ctx, func(dbc dbctx.Context) (int64, error) {
			if err := s.appointments.Save(dbc, appt); err != nil {
				return 0, err
			}
			return 1, nil
		}, appt)
	})
	if err != nil && !committed(err) {
		return nil, err
	}
	return out, err
}

func (s *bookingService) GetAgency(ctx context.Context, agencyID uuid.UUID) (*booking.Agency, error) {
	return s.agencies.GetByID(dbctx.Context{Ctx: ctx}, agencyID)
}

func (s *bookingService) ListAgencies(ctx context.Context, limit int) ([]*booking.Agency, error) {
	return s.agencies.List(dbctx.Context{Ctx: ctx}, limit)
}

func (s *bookingService) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*booking.Appointment, error) {
	return s.appointments.GetByID(dbctx.Context{Ctx: ctx}, appointmentID)
}
