package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidRegistration indicates a malformed email or weak password.
	ErrInvalidRegistration = errors.New("users: invalid registration")
	// ErrUnknownAccount indicates the account id has no matching record.
	ErrUnknownAccount = errors.New("users: unknown account")

	errMissingDatabase = errors.New("users: database connection required")
)

// Account models a registered owner identity.
type Account struct {
	AccountID    string     `gorm:"column:account_id;primaryKey;size:190;not null"`
	Email        string     `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	PasswordHash string     `gorm:"column:password_hash;size:128;not null"`
	DisplayName  string     `gorm:"column:display_name;size:190;not null;default:''"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	LastSeenAt   *time.Time `gorm:"column:last_seen_at"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages account registration and password authentication.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
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

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: email is malformed", ErrInvalidRegistration)
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}

	var existing Account
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Account{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	accountID, err := uuid.NewV7()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		AccountID:    accountID.String(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logger.Error("account create failed", zap.String("email", email), zap.Error(err))
		return Account{}, err
	}

	s.logger.Info("account registered", zap.String("account_id", account.AccountID))
	return account, nil
}

// Authenticate verifies the password for an email and returns the account.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	now := s.clock().UTC()
	account.LastSeenAt = &now
	if err := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.AccountID).
		Update("last_seen_at", now).Error; err != nil {
		s.logger.Warn("last-seen update failed", zap.String("account_id", account.AccountID), zap.Error(err))
	}
	return account, nil
}

// Lookup returns the account for an id.
func (s *Service) Lookup(ctx context.Context, accountID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrUnknownAccount
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
