package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	repos "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/testutil"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

type env struct {
	db       *gorm.DB
	store    eventstore.Store
	outbox   outbox.Store
	registry *dispatch.Registry
	booking  BookingService
	operator OperatorService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	e := &env{
		db:       db,
		store:    eventstore.NewStore(db, log),
		outbox:   outbox.NewStore(db, log),
		registry: dispatch.NewRegistry(),
	}
	dispatcher := dispatch.New(dispatch.Deps{
		Store:    e.store,
		Outbox:   e.outbox,
		Registry: e.registry,
		Log:      log,
		Config:   dispatch.Config{Attempts: 3, BaseDelay: time.Millisecond},
	})
	gate := commit.NewGate(aggregates.NewGormTxRunner(db), dispatcher, log)
	retry := aggregates.DefaultRetryConfig()
	retry.ConflictAttempts = 20
	retry.ConflictBaseDelay = time.Millisecond
	retry.ConflictMaxDelay = 5 * time.Millisecond
	e.booking = NewBookingService(log, repos.NewAgencyRepo(db, log), repos.NewAppointmentRepo(db, log), gate, retry)
	e.operator = NewOperatorService(aggregates.BaseDeps{DB: db, Log: log, Runner: gate.PlainRunner()}, e.outbox, e.store)
	return e
}

func (e *env) kinds(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	recs, err := e.store.LoadStream(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil {
		t.Fatalf("LoadStream: %v", err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

type recorder struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Handle(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, evt.Kind())
	return r.err
}

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestRegisterAgencyRecordsAndDelivers(t *testing.T) {
	e := newEnv(t)
	rec := &recorder{}
	_ = e.registry.RegisterAll(rec)

	a, err := e.booking.RegisterAgency(context.Background(), RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})
	if err != nil {
		t.Fatalf("RegisterAgency: %v", err)
	}
	if got := e.kinds(t, a.ID); len(got) != 1 || got[0] != booking.KindAgencyRegistered {
		t.Fatalf("stream: got=%v", got)
	}
	if len(rec.kinds) != 1 {
		t.Fatalf("handler calls: want=1 got=%d", len(rec.kinds))
	}
	if len(a.PendingEvents()) != 0 {
		t.Fatalf("buffer must be drained after commit")
	}
}

func TestRegisterAgencyValidation(t *testing.T) {
	e := newEnv(t)
	_, err := e.booking.RegisterAgency(context.Background(), RegisterAgencyInput{Name: "", Email: "north@example.com", DailyCapacity: 2})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("want validation error got=%v", err)
	}
}

func TestRenameAgencyStaleExpectedVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})

	if _, err := e.booking.RenameAgency(ctx, a.ID, "North 2", 1); err != nil {
		t.Fatalf("RenameAgency: %v", err)
	}
	_, err := e.booking.RenameAgency(ctx, a.ID, "North 3", 1)
	if !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("want precondition failure got=%v", err)
	}
	got, _ := e.booking.GetAgency(ctx, a.ID)
	if got.Name != "North 2" || got.Version != 2 {
		t.Fatalf("agency: name=%q version=%d", got.Name, got.Version)
	}
}

func TestConcurrentAgencyChangesAllLand(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.booking.DeclareHoliday(ctx, a.ID, monday.AddDate(0, 0, i), "closed")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("DeclareHoliday: %v", err)
		}
	}
	got, _ := e.booking.GetAgency(ctx, a.ID)
	if len(got.Holidays) != 4 || got.Version != 5 {
		t.Fatalf("agency: holidays=%v version=%d", got.Holidays, got.Version)
	}
	if n := len(e.kinds(t, a.ID)); n != 5 {
		t.Fatalf("stream length: want=5 got=%d", n)
	}
}

func TestBookAppointmentCapacityUnderConcurrency(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		refused int
		other   []error
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.booking.BookAppointment(ctx, BookAppointmentInput{
				AgencyID:      a.ID,
				CustomerEmail: "c@example.com",
				SlotStart:     monday.Add(time.Duration(i) * time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case domainagg.IsCode(err, domainagg.CodePreconditionFailed):
				refused++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()
	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if booked != 2 || refused != 3 {
		t.Fatalf("booked=%d refused=%d", booked, refused)
	}
}

func TestBookAppointmentOnHolidayRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})
	if _, err := e.booking.DeclareHoliday(ctx, a.ID, monday, "closed"); err != nil {
		t.Fatalf("DeclareHoliday: %v", err)
	}
	_, err := e.booking.BookAppointment(ctx, BookAppointmentInput{AgencyID: a.ID, CustomerEmail: "c@example.com", SlotStart: monday})
	if !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("want invariant violation got=%v", err)
	}
}

func TestBookAppointmentUnknownAgency(t *testing.T) {
	e := newEnv(t)
	_, err := e.booking.BookAppointment(context.Background(), BookAppointmentInput{AgencyID: uuid.New(), CustomerEmail: "c@example.com", SlotStart: monday})
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not found got=%v", err)
	}
}

func TestHandlerFailureKeepsCommittedBooking(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})
	rec := &recorder{err: errors.New("mail relay down")}
	_ = e.registry.Register(booking.KindAppointmentBooked, rec)

	appt, err := e.booking.BookAppointment(ctx, BookAppointmentInput{AgencyID: a.ID, CustomerEmail: "c@example.com", SlotStart: monday})
	de, ok := dispatch.AsError(err)
	if !ok {
		t.Fatalf("want dispatch error got=%v", err)
	}
	if appt == nil {
		t.Fatalf("committed appointment must be returned with the dispatch error")
	}
	if len(rec.kinds) != 3 {
		t.Fatalf("handler attempts: want=3 got=%d", len(rec.kinds))
	}
	if _, gerr := e.booking.GetAppointment(ctx, appt.ID); gerr != nil {
		t.Fatalf("appointment must be persisted: %v", gerr)
	}
	msg, gerr := e.outbox.GetByID(dbctx.Context{Ctx: ctx}, de.OutboxID)
	if gerr != nil || msg.EventKind != booking.KindAppointmentBooked {
		t.Fatalf("outbox row: msg=%+v err=%v", msg, gerr)
	}
}

func TestCancelAppointment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 1})
	appt, err := e.booking.BookAppointment(ctx, BookAppointmentInput{AgencyID: a.ID, CustomerEmail: "c@example.com", SlotStart: monday})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if _, err := e.booking.CancelAppointment(ctx, appt.ID, "sick"); err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if _, err := e.booking.CancelAppointment(ctx, appt.ID, "again"); !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("second cancel: want invariant violation got=%v", err)
	}
	got := e.kinds(t, appt.ID)
	if len(got) != 2 || got[1] != booking.KindAppointmentCancelled {
		t.Fatalf("stream: got=%v", got)
	}
	// The freed slot can be booked again.
	if _, err := e.booking.BookAppointment(ctx, BookAppointmentInput{AgencyID: a.ID, CustomerEmail: "d@example.com", SlotStart: monday}); err != nil {
		t.Fatalf("rebook: %v", err)
	}
}

func TestHandlerCommandJoinsRunningCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	calls := 0
	_ = e.registry.Register(booking.KindAgencyRegistered, dispatch.HandlerFunc("auto_holiday", func(ctx context.Context, evt events.Event) error {
		calls++
		if commit.ScopeFrom(ctx) == nil {
			t.Errorf("handler must see the running commit scope")
		}
		_, err := e.booking.DeclareHoliday(ctx, evt.AggregateID(), monday, "opening day")
		return err
	}))

	a, err := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})
	if err != nil {
		t.Fatalf("RegisterAgency: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler calls: want=1 got=%d", calls)
	}
	got := e.kinds(t, a.ID)
	if len(got) != 2 || got[1] != booking.KindHolidayDeclared {
		t.Fatalf("stream: got=%v", got)
	}
	stored, _ := e.booking.GetAgency(ctx, a.ID)
	if !stored.IsHoliday(monday) {
		t.Fatalf("nested change must be committed")
	}
}

func TestFailedNestedRoundKeepsCommittedWrite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	calls := 0
	var renameErrs []error
	_ = e.registry.Register(booking.KindAgencyRegistered, dispatch.HandlerFunc("auto_rename", func(ctx context.Context, evt events.Event) error {
		calls++
		// Both renames read the same version, so the second save conflicts
		// inside the follow-up round.
		for _, name := range []string{"First", "Second"} {
			_, err := e.booking.RenameAgency(ctx, evt.AggregateID(), name, 0)
			renameErrs = append(renameErrs, err)
		}
		return nil
	}))

	a, err := e.booking.RegisterAgency(ctx, RegisterAgencyInput{Name: "North", Email: "north@example.com", DailyCapacity: 2})
	if a == nil {
		t.Fatalf("RegisterAgency must return the committed agency, err=%v", err)
	}
	var roundErr *commit.RoundError
	if !errors.As(err, &roundErr) || roundErr.Round != 1 || roundErr.Rows != 1 {
		t.Fatalf("error: want *commit.RoundError round=1 rows=1 got=%v", err)
	}
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("round cause: want conflict got=%v", err)
	}
	if calls != 1 {
		t.Fatalf("handler calls: want=1 got=%d", calls)
	}
	for i, rerr := range renameErrs {
		if rerr != nil {
			t.Fatalf("queued rename %d: want=nil got=%v", i, rerr)
		}
	}

	var count int64
	if err := e.db.Model(&booking.Agency{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("agencies: want=1 got=%d", count)
	}
	stored, err := e.booking.GetAgency(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgency: %v", err)
	}
	if stored.Name != "North" || stored.Version != 1 {
		t.Fatalf("failed round must not apply: name=%s version=%d", stored.Name, stored.Version)
	}
	if got := e.kinds(t, a.ID); len(got) != 1 || got[0] != booking.KindAgencyRegistered {
		t.Fatalf("stream: got=%v", got)
	}
}
