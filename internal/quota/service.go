package quota

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownCredential marks a key with no matching credential record.
	ErrUnknownCredential = errors.New("quota: unknown credential")
	// ErrDailyLimitExceeded marks a credential that spent its daily budget.
	ErrDailyLimitExceeded = errors.New("quota: daily request limit exceeded")

	errMissingDatabase = errors.New("quota: database handle is required")
)

// ServiceConfig describes the dependencies of the quota tracker.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service issues per-owner credentials and tracks their daily request
// counts. The check-then-increment sequence is intentionally non-atomic:
// concurrent requests on one credential may under-count, but a day rollover
// is never applied twice because the reset compares calendar dates, not
// counter values.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the quota tracker.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// IssueCredential creates a credential with a fresh API key for the owner.
func (s *Service) IssueCredential(ctx context.Context, ownerID string) (Credential, error) {
	if ownerID == "" {
		return Credential{}, fmt.Errorf("%w: empty owner id", ErrUnknownCredential)
	}

	credentialID, err := uuid.NewV7()
	if err != nil {
		return Credential{}, err
	}

	credential := Credential{
		CredentialID: credentialID.String(),
		OwnerID:      ownerID,
		Key:          generateKey(s.clock()),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&credential).Error; err != nil {
		s.logger.Error("credential create failed", zap.String("owner_id", ownerID), zap.Error(err))
		return Credential{}, err
	}

	s.logger.Info("credential issued", zap.String("owner_id", ownerID))
	return credential, nil
}

// Resolve returns the credential for a key and records the access time.
func (s *Service) Resolve(ctx context.Context, key string) (Credential, error) {
	credential, err := s.findByKey(ctx, key)
	if err != nil {
		return Credential{}, err
	}

	now := s.clock().UTC()
	credential.LastUsedAt = &now
	if err := s.db.WithContext(ctx).
		Model(&Credential{}).
		Where("credential_id = ?", credential.CredentialID).
		Update("last_used_at", now).Error; err != nil {
		s.logger.Warn("credential last-used update failed",
			zap.String("credential_id", credential.CredentialID), zap.Error(err))
	}
	return credential, nil
}

// ForOwner returns the owner's credential.
func (s *Service) ForOwner(ctx context.Context, ownerID string) (Credential, error) {
	var credential Credential
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrUnknownCredential
	}
	if err != nil {
		return Credential{}, err
	}
	return credential, nil
}

// IsExceeded reports whether the credential spent its daily budget. The
// check is read-only: when the stored reset date lies in an earlier UTC day
// the counter logically reads as zero even though the row has not been
// rewritten yet; the physical reset happens on the next Increment.
func (s *Service) IsExceeded(ctx context.Context, key string, dailyLimit int) (bool, error) {
	credential, err := s.findByKey(ctx, key)
	if err != nil {
		return false, err
	}
	if rolloverDue(credential.ResetAt, s.clock) {
		return false, nil
	}
	return credential.DailyCount >= dailyLimit, nil
}

// Increment applies a due day rollover and adds one request to the counter.
func (s *Service) Increment(ctx context.Context, key string) error {
	credential, err := s.findByKey(ctx, key)
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	if rolloverDue(credential.ResetAt, s.clock) {
		credential.DailyCount = 0
		credential.ResetAt = &now
	}
	credential.DailyCount++

	if err := s.db.WithContext(ctx).Save(&credential).Error; err != nil {
		s.logger.Error("quota increment failed",
			zap.String("credential_id", credential.CredentialID), zap.Error(err))
		return err
	}
	return nil
}

// Charge runs the caller-side check-then-increment sequence: it returns
// ErrDailyLimitExceeded without consuming budget when the credential is
// already over the limit, otherwise it records one request. Not atomic.
func (s *Service) Charge(ctx context.Context, key string, dailyLimit int) error {
	exceeded, err := s.IsExceeded(ctx, key, dailyLimit)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrDailyLimitExceeded
	}
	return s.Increment(ctx, key)
}

func (s *Service) findByKey(ctx context.Context, key string) (Credential, error) {
	if key == "" {
		return Credential{}, ErrUnknownCredential
	}
	var credential Credential
	err := s.db.WithContext(ctx).Where("api_key = ?", key).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrUnknownCredential
	}
	if err != nil {
		return Credential{}, err
	}
	return credential, nil
}

// rolloverDue reports whether the stored reset timestamp belongs to an
// earlier UTC calendar date than now. A nil reset means the credential has
// never been charged and is always due.
func rolloverDue(resetAt *time.Time, clock func() time.Time) bool {
	if resetAt == nil {
		return true
	}
	storedYear, storedMonth, storedDay := resetAt.UTC().Date()
	nowYear, nowMonth, nowDay := clock().UTC().Date()
	stored := time.Date(storedYear, storedMonth, storedDay, 0, 0, 0, 0, time.UTC)
	current := time.Date(nowYear, nowMonth, nowDay, 0, 0, 0, 0, time.UTC)
	return stored.Before(current)
}

// generateKey derives a 32-character URL-safe API key from a random UUID
// and the issue timestamp.
func generateKey(now time.Time) string {
	raw := uuid.NewString() + strconv.FormatInt(now.UnixMilli(), 16)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(raw))
	return encoded[:32]
}
