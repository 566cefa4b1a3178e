package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"lukechampine.com/blake3"

	"pixrouter/observability/metrics"
	"pixrouter/selector"
)

var (
	// ErrRulesetNotFound is returned when the requested id/version pair is absent.
	ErrRulesetNotFound = errors.New("storage: ruleset not found")
	// ErrVersionExists is returned when saving a version that is already stored.
	ErrVersionExists = errors.New("storage: ruleset version already exists")
	// ErrNoActiveRuleset is returned before any activation has been recorded.
	ErrNoActiveRuleset = errors.New("storage: no active ruleset")
)

// Repository is the persistence surface the daemon and CLI build on.
// Stored documents are immutable; new behavior always lands as a new
// version plus an activation.
type Repository interface {
	SaveRuleset(ctx context.Context, doc *selector.Document, actor string) (*RuleSet, error)
	Ruleset(ctx context.Context, rulesetID, version int64) (*selector.Document, error)
	LatestVersion(ctx context.Context, rulesetID int64) (int64, error)
	ListRulesets(ctx context.Context, rulesetID int64) ([]RuleSet, error)
	Activate(ctx context.Context, rulesetID, version int64, actor, note string) (*Activation, error)
	ActiveRuleset(ctx context.Context) (*selector.Document, *Activation, error)
	Activations(ctx context.Context, limit int) ([]Activation, error)
	Gateways(ctx context.Context) ([]GatewayConfig, error)
	UpsertGateway(ctx context.Context, gw GatewayConfig) error
}

// GormRepository implements Repository on a gorm handle. Postgres backs
// production deployments; tests run against in-memory SQLite.
type GormRepository struct {
	db      *gorm.DB
	metrics *metrics.StorageMetrics
}

func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db, metrics: metrics.Storage()}
}

func (r *GormRepository) observe(op string, start time.Time, err *error) {
	r.metrics.ObserveQuery(op, time.Since(start), *err)
}

// Checksum derives the content address of a serialized ruleset document.
func Checksum(document []byte) string {
	sum := blake3.Sum256(document)
	return hex.EncodeToString(sum[:16])
}

// SaveRuleset validates and stores a new ruleset version. The document is
// compiled before anything is written so the store only ever holds
// loadable rulesets.
func (r *GormRepository) SaveRuleset(ctx context.Context, doc *selector.Document, actor string) (rs *RuleSet, err error) {
	defer r.observe("save_ruleset", time.Now(), &err)

	if _, err = selector.Compile(doc); err != nil {
		return nil, fmt.Errorf("validate ruleset: %w", err)
	}
	raw, err := doc.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode ruleset: %w", err)
	}

	row := RuleSet{
		RulesetID:      doc.ID,
		Version:        doc.Version,
		Name:           strings.TrimSpace(doc.Name),
		DefaultGateway: strings.TrimSpace(doc.DefaultGateway),
		Document:       string(raw),
		Checksum:       Checksum(raw),
		CreatedBy:      strings.TrimSpace(actor),
	}
	for _, rd := range doc.Rules {
		route, target := actionSummary(rd.Action)
		row.Rules = append(row.Rules, Rule{
			RuleID:        rd.ID,
			Priority:      rd.Priority,
			Enabled:       rd.Enabled,
			ConditionType: rd.ConditionType,
			Route:         route,
			Target:        target,
		})
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&RuleSet{}).
			Where("ruleset_id = ? AND version = ?", doc.ID, doc.Version).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrVersionExists
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}

	var total int64
	if r.db.WithContext(ctx).Model(&RuleSet{}).Count(&total).Error == nil {
		r.metrics.SetRulesetsKnown(int(total))
	}
	return &row, nil
}

func actionSummary(a selector.ActionDocument) (route, target string) {
	switch a.Route {
	case "FIXED":
		return a.Route, a.Gateway
	case "DENY":
		return a.Route, a.ReasonCode
	case "WEIGHTED":
		return a.Route, a.StickyBy
	}
	return a.Route, ""
}

// Ruleset loads one stored document by id and version.
func (r *GormRepository) Ruleset(ctx context.Context, rulesetID, version int64) (doc *selector.Document, err error) {
	defer r.observe("ruleset", time.Now(), &err)

	var row RuleSet
	if err = r.db.WithContext(ctx).
		Where("ruleset_id = ? AND version = ?", rulesetID, version).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrRulesetNotFound
		}
		return nil, err
	}
	return selector.ParseDocument([]byte(row.Document))
}

// LatestVersion reports the highest stored version for a ruleset id.
func (r *GormRepository) LatestVersion(ctx context.Context, rulesetID int64) (version int64, err error) {
	defer r.observe("latest_version", time.Now(), &err)

	var row RuleSet
	if err = r.db.WithContext(ctx).
		Where("ruleset_id = ?", rulesetID).
		Order("version DESC").
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrRulesetNotFound
		}
		return 0, err
	}
	return row.Version, nil
}

// ListRulesets returns the stored versions for a ruleset id, newest first,
// without their denormalized rule rows.
func (r *GormRepository) ListRulesets(ctx context.Context, rulesetID int64) (rows []RuleSet, err error) {
	defer r.observe("list_rulesets", time.Now(), &err)

	err = r.db.WithContext(ctx).
		Where("ruleset_id = ?", rulesetID).
		Order("version DESC").
		Omit("Document").
		Find(&rows).Error
	return rows, err
}

// Activate records an activation for a stored version. The version must
// exist; activating is what makes a version eligible for serving.
func (r *GormRepository) Activate(ctx context.Context, rulesetID, version int64, actor, note string) (act *Activation, err error) {
	defer r.observe("activate", time.Now(), &err)

	row := Activation{
		ID:        uuid.New(),
		RulesetID: rulesetID,
		Version:   version,
		Actor:     strings.TrimSpace(actor),
		Note:      strings.TrimSpace(note),
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&RuleSet{}).
			Where("ruleset_id = ? AND version = ?", rulesetID, version).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRulesetNotFound
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordActivation(rulesetID)
	return &row, nil
}

// ActiveRuleset resolves the most recent activation and loads its document.
func (r *GormRepository) ActiveRuleset(ctx context.Context) (doc *selector.Document, act *Activation, err error) {
	defer r.observe("active_ruleset", time.Now(), &err)

	var latest Activation
	if err = r.db.WithContext(ctx).
		Order("created_at DESC").
		First(&latest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNoActiveRuleset
		}
		return nil, nil, err
	}
	doc, err = r.Ruleset(ctx, latest.RulesetID, latest.Version)
	if err != nil {
		return nil, nil, err
	}
	return doc, &latest, nil
}

// Activations lists the activation audit trail, newest first.
func (r *GormRepository) Activations(ctx context.Context, limit int) (rows []Activation, err error) {
	defer r.observe("activations", time.Now(), &err)

	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err = q.Find(&rows).Error
	return rows, err
}

// Gateways returns the gateway catalog sorted by name.
func (r *GormRepository) Gateways(ctx context.Context) (rows []GatewayConfig, err error) {
	defer r.observe("gateways", time.Now(), &err)

	err = r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error
	return rows, err
}

// UpsertGateway inserts or refreshes one catalog entry.
func (r *GormRepository) UpsertGateway(ctx context.Context, gw GatewayConfig) (err error) {
	defer r.observe("upsert_gateway", time.Now(), &err)

	gw.Name = strings.TrimSpace(gw.Name)
	if gw.Name == "" {
		return fmt.Errorf("storage: gateway name required")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&gw).Error
}
