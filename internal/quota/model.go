package quota

import "time"

// Credential is the per-owner API key used for embed access. It carries the
// daily request counter that resets at UTC midnight. The credential is
// weak-linked to its owner for lookup only; all quota state is keyed by the
// credential itself.
type Credential struct {
	CredentialID string     `gorm:"column:credential_id;primaryKey;size:190;not null"`
	OwnerID      string     `gorm:"column:owner_id;size:190;not null;index:idx_credentials_owner"`
	Key          string     `gorm:"column:api_key;size:64;not null;uniqueIndex:idx_credentials_key"`
	DailyCount   int        `gorm:"column:daily_count;not null;default:0"`
	ResetAt      *time.Time `gorm:"column:reset_at"`
	LastUsedAt   *time.Time `gorm:"column:last_used_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Credential) TableName() string {
	return "credentials"
}
