package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	repos "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/testutil"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

func seedAgency(t *testing.T, repo repos.AgencyRepo, name string) *booking.Agency {
	t.Helper()
	a, err := booking.NewAgency(name, "ops@example.com", 2)
	if err != nil {
		t.Fatalf("NewAgency: %v", err)
	}
	a.PullEvents()
	if err := repo.Create(dbctx.Context{Ctx: context.Background()}, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

func TestAgencySaveBumpsVersion(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewAgencyRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	a := seedAgency(t, repo, "North")

	if err := a.DeclareHoliday(time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC), "Christmas"); err != nil {
		t.Fatalf("DeclareHoliday: %v", err)
	}
	if err := repo.Save(dbc, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("in-memory version: want=2 got=%d", a.Version)
	}

	got, err := repo.GetByID(dbc, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("stored version: want=2 got=%d", got.Version)
	}
	if len(got.Holidays) != 1 || got.Holidays[0] != "2026-12-25" {
		t.Fatalf("holidays: want=[2026-12-25] got=%v", got.Holidays)
	}
}

func TestAgencySaveStaleReturnsLatest(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewAgencyRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	seeded := seedAgency(t, repo, "North")

	winner, err := repo.GetByID(dbc, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID winner: %v", err)
	}
	loser, err := repo.GetByID(dbc, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID loser: %v", err)
	}

	if err := winner.Rename("North HQ"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := repo.Save(dbc, winner); err != nil {
		t.Fatalf("winner Save: %v", err)
	}

	if err := loser.Rename("North Branch"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	err = repo.Save(dbc, loser)
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("loser Save: want conflict got=%v", err)
	}
	var vc *aggregates.VersionConflict
	if !errors.As(err, &vc) {
		t.Fatalf("expected *VersionConflict")
	}
	if vc.Expected != 1 || vc.Actual != 2 {
		t.Fatalf("conflict versions: want expected=1 actual=2 got=%+v", vc)
	}
	latest, ok := repos.LatestAgency(err)
	if !ok || latest.Name != "North HQ" {
		t.Fatalf("latest: want name=North HQ got=%+v ok=%v", latest, ok)
	}
	if loser.Version != 1 {
		t.Fatalf("loser version must stay 1, got=%d", loser.Version)
	}
}

func TestAgencySaveDeletedIsNotFound(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewAgencyRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	a := seedAgency(t, repo, "North")

	if err := db.Exec("DELETE FROM agency WHERE id = ?", a.ID).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := a.Rename("Gone"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	err := repo.Save(dbc, a)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not_found got=%v", err)
	}
	if domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("deleted row must not be reported as conflict")
	}
}

func TestConcurrentWritersExactlyOneWins(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewAgencyRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	seeded := seedAgency(t, repo, "North")

	const writers = 4
	copies := make([]*booking.Agency, writers)
	for i := range copies {
		c, err := repo.GetByID(dbc, seeded.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		copies[i] = c
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i, c := range copies {
		wg.Add(1)
		go func(i int, c *booking.Agency) {
			defer wg.Done()
			_ = c.Rename(fmt.Sprintf("North %d", i))
			err := repo.Save(dbc, c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domainagg.IsCode(err, domainagg.CodeConflict):
				conflicts++
			default:
				t.Errorf("writer %d: unexpected err %v", i, err)
			}
		}(i, c)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("outcome: want wins=1 conflicts=%d got wins=%d conflicts=%d", writers-1, wins, conflicts)
	}
	got, err := repo.GetByID(dbc, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("version: want=2 got=%d", got.Version)
	}
}

func TestAppointmentCountAndCancel(t *testing.T) {
	db := testutil.DB(t)
	agencies := repos.NewAgencyRepo(db, testutil.Logger(t))
	appts := repos.NewAppointmentRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	agency := seedAgency(t, agencies, "North")

	day := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	first, err := booking.BookAppointment(agency, "ada@example.com", day)
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	second, err := booking.BookAppointment(agency, "bob@example.com", day.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	other, err := booking.BookAppointment(agency, "cy@example.com", day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	for _, a := range []*booking.Appointment{first, second, other} {
		if err := appts.Create(dbc, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := appts.CountBookedOn(dbc, agency.ID, day)
	if err != nil || n != 2 {
		t.Fatalf("count: want=2,nil got=%d,%v", n, err)
	}

	if err := second.Cancel("customer request"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := appts.Save(dbc, second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	n, err = appts.CountBookedOn(dbc, agency.ID, day)
	if err != nil || n != 1 {
		t.Fatalf("count after cancel: want=1,nil got=%d,%v", n, err)
	}

	got, err := appts.GetByID(dbc, second.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != booking.AppointmentStatusCancelled || got.Version != 2 {
		t.Fatalf("stored: want cancelled v2 got %s v%d", got.Status, got.Version)
	}
}
