package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/auth"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/ids"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates a signup for an email that already has an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates the user id does not resolve.
	ErrUserNotFound = errors.New("users: user not found")

	errMissingDatabase   = errors.New("users: database connection required")
	errMissingIDProvider = errors.New("users: id provider required")
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hashed, plain string) error
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Hasher     PasswordHasher
	Logger     *zap.Logger
}

// Service manages user accounts and credential checks.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	hasher     PasswordHasher
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = auth.NewPasswordHasher(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		hasher:     hasher,
		logger:     logger,
	}, nil
}

// Signup registers a member account.
func (s *Service) Signup(ctx context.Context, input SignupInput) (User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)
	if err := validation.Struct(input); err != nil {
		return User{}, err
	}
	return s.createUser(ctx, input, auth.RoleMember)
}

// Authenticate resolves the account for the email and verifies its password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("user lookup failed", zap.Error(err))
		return User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	return user, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// EnsureAdmin creates an admin account, or promotes the existing account for
// the email. The password of an existing account is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, input SignupInput) (User, bool, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", input.Email).Take(&existing).Error
	switch {
	case err == nil:
		if existing.Role != auth.RoleAdmin {
			existing.Role = auth.RoleAdmin
			existing.UpdatedAt = s.now().UTC()
			if err := s.db.WithContext(ctx).Model(&User{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{"role": existing.Role, "updated_at": existing.UpdatedAt}).Error; err != nil {
				return User{}, false, err
			}
			s.logger.Info("user promoted to admin", zap.String("user_id", existing.ID))
		}
		return existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return User{}, false, err
	}

	if err := validation.Struct(input); err != nil {
		return User{}, false, err
	}
	user, err := s.createUser(ctx, input, auth.RoleAdmin)
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// Summaries returns the creator projection for each known id.
func (s *Service) Summaries(ctx context.Context, userIDs []string) (map[string]Summary, error) {
	result := make(map[string]Summary, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var found []User
	if err := s.db.WithContext(ctx).
		Select("id", "name", "email").
		Where("id IN ?", userIDs).
		Find(&found).Error; err != nil {
		return nil, err
	}
	for _, user := range found {
		result[user.ID] = Summary{ID: user.ID, Name: user.Name, Email: user.Email}
	}
	return result, nil
}

func (s *Service) createUser(ctx context.Context, input SignupInput, role string) (User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", input.Email).Count(&count).Error; err != nil {
		return User{}, err
	}
	if count > 0 {
		return User{}, ErrEmailTaken
	}

	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}

	now := s.now().UTC()
	user := User{
		ID:           userID,
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hashed,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isDuplicateKey(s.db, err) {
			return User{}, ErrEmailTaken
		}
		s.logger.Error("user insert failed", zap.Error(err), zap.String("email", input.Email))
		return User{}, err
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", role))
	return user, nil
}

// isDuplicateKey reports a unique constraint violation whether or not the
// connection was opened with gorm's TranslateError.
func isDuplicateKey(db *gorm.DB, err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	translator, ok := db.Dialector.(gorm.ErrorTranslator)
	return ok && errors.Is(translator.Translate(err), gorm.ErrDuplicatedKey)
}
