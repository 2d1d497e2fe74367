package booking

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type AgencyRepo interface {
	Create(dbc dbctx.Context, agency *booking.Agency) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*booking.Agency, error)
	List(dbc dbctx.Context, limit int) ([]*booking.Agency, error)
	// Save writes agency when its Version is still current and bumps Version.
	Save(dbc dbctx.Context, agency *booking.Agency) error
}

type agencyRepo struct {
	db    *gorm.DB
	guard aggregates.CASGuard
	log   *logger.Logger
}

func NewAgencyRepo(db *gorm.DB, baseLog *logger.Logger) AgencyRepo {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &agencyRepo{
		db:    db,
		guard: aggregates.NewCASGuard(db),
		log:   baseLog.With("repo", "AgencyRepo"),
	}
}

func (r *agencyRepo) Create(dbc dbctx.Context, agency *booking.Agency) error {
	const op = "booking.agency.create"
	if agency == nil || agency.ID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "agency with id is required", nil)
	}
	if agency.Version < 1 {
		agency.Version = 1
	}
	if err := dbc.DB(r.db).Create(agency).Error; err != nil {
		return aggregates.MapError(op, err)
	}
	return nil
}

func (r *agencyRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*booking.Agency, error) {
	const op = "booking.agency.get"
	var a booking.Agency
	if err := dbc.DB(r.db).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, aggregates.MapError(op, err)
	}
	return &a, nil
}

func (r *agencyRepo) List(dbc dbctx.Context, limit int) ([]*booking.Agency, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*booking.Agency
	if err := dbc.DB(r.db).Order("created_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("booking.agency.list", err)
	}
	return out, nil
}

func (r *agencyRepo) Save(dbc dbctx.Context, agency *booking.Agency) error {
	const op = "booking.agency.save"
	if agency == nil || agency.ID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "agency with id is required", nil)
	}
	agency.UpdatedAt = time.Now().UTC()
	ok, err := r.guard.UpdateByVersion(dbc, agency.TableName(), agency.ID, agency.Version, map[string]any{
		"name":           agency.Name,
		"email":          agency.Email,
		"daily_capacity": agency.DailyCapacity,
		"holidays":       agency.Holidays,
		"updated_at":     agency.UpdatedAt,
	})
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if !ok {
		latest, lerr := r.GetByID(dbc, agency.ID)
		if lerr != nil && !domainagg.IsCode(lerr, domainagg.CodeNotFound) {
			return lerr
		}
		if latest == nil {
			return aggregates.ConflictAfterCASMiss(op, agency.TableName(), agency.ID, agency.Version, nil, 0, false)
		}
		r.log.Debug("agency version conflict", "agency_id", agency.ID, "expected", agency.Version, "actual", latest.Version)
		return aggregates.ConflictAfterCASMiss(op, agency.TableName(), agency.ID, agency.Version, latest, latest.Version, true)
	}
	agency.Version++
	return nil
}

// LatestAgency extracts the reloaded row from a version conflict.
func LatestAgency(err error) (*booking.Agency, bool) {
	var vc *aggregates.VersionConflict
	if !errors.As(err, &vc) {
		return nil, false
	}
	a, ok := vc.Latest.(*booking.Agency)
	return a, ok
}
