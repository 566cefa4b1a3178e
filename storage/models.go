package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GatewayConfig is one entry of the operational gateway catalog. The
// selector's closed world of gateway names is seeded from these rows.
type GatewayConfig struct {
	Name        string    `gorm:"primaryKey;size:64"`
	DisplayName string    `gorm:"size:128"`
	Endpoint    string    `gorm:"size:255"`
	Enabled     bool      `gorm:"not null"`
	TimeoutMS   int       `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RuleSet stores one immutable ruleset version. The Document column holds
// the full canonical JSON; the Rules rows are denormalized for listing and
// never read back into the compiler.
type RuleSet struct {
	ID             uint      `gorm:"primaryKey"`
	RulesetID      int64     `gorm:"uniqueIndex:idx_ruleset_version;not null"`
	Version        int64     `gorm:"uniqueIndex:idx_ruleset_version;not null"`
	Name           string    `gorm:"size:128"`
	DefaultGateway string    `gorm:"size:64"`
	Document       string    `gorm:"type:text;not null"`
	Checksum       string    `gorm:"size:64;index"`
	CreatedBy      string    `gorm:"size:128"`
	CreatedAt      time.Time
	Rules          []Rule    `gorm:"foreignKey:RuleSetRef"`
}

// Rule mirrors one rule of a stored ruleset for administrative queries.
type Rule struct {
	ID            uint      `gorm:"primaryKey"`
	RuleSetRef    uint      `gorm:"index"`
	RuleID        int64     `gorm:"not null"`
	Priority      int64     `gorm:"not null"`
	Enabled       bool
	ConditionType string    `gorm:"size:32"`
	Route         string    `gorm:"size:16"`
	Target        string    `gorm:"size:128"`
	CreatedAt     time.Time
}

// Activation is the audit trail of which ruleset version went live when.
type Activation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RulesetID int64     `gorm:"index;not null"`
	Version   int64     `gorm:"not null"`
	Actor     string    `gorm:"size:128"`
	Note      string    `gorm:"size:512"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the routing store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&GatewayConfig{},
		&RuleSet{},
		&Rule{},
		&Activation{},
	)
}
