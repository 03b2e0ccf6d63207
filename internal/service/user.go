package service

import (
	"context" // Request scoping
	"errors"  // Error matching
	"fmt"     // Error wrapping
	"regexp"  // Phone format
	"strings" // Normalization
	"time"    // Cache TTL

	"budget_system/internal/domain" // Importing domain models
	"budget_system/internal/utils"  // Password hashing, cache, sanitizing

	"github.com/go-playground/validator/v10" // Email format
	"github.com/sirupsen/logrus"             // Structured logging
	"gorm.io/gorm"                           // GORM ORM library
)

var (
	phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)
	validate     = validator.New()
)

const minPasswordLength = 8

// Registration is the input for a new email or phone account
type Registration struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// ProfilePatch is a partial profile update; nil fields are left alone
type ProfilePatch struct {
	Name  *string
	Email *string
	Phone *string
}

// UserService manages accounts. Profiles are read through the cache and the
// cached copy is dropped on every write.
type UserService struct {
	db    *gorm.DB
	cache utils.Cache
	ttl   time.Duration
}

// NewUserService creates the user component
func NewUserService(db *gorm.DB, cache utils.Cache, ttl time.Duration) *UserService {
	return &UserService{db: db, cache: cache, ttl: ttl}
}

func profileKey(userID string) string {
	return "user:" + userID
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrValidation)
	}
	return email, nil
}

func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return "", fmt.Errorf("%w: invalid phone number", domain.ErrValidation)
	}
	return phone, nil
}

func cleanName(name string) (string, error) {
	name = utils.CleanText(name)
	if name == "" || len(name) > 255 {
		return "", fmt.Errorf("%w: name must be 1-255 characters", domain.ErrValidation)
	}
	return name, nil
}

// Register creates an account identified by email, phone or both
func (s *UserService) Register(ctx context.Context, reg Registration) (*domain.User, error) {
	name, err := cleanName(reg.Name)
	if err != nil {
		return nil, err
	}
	if reg.Email == "" && reg.Phone == "" {
		return nil, fmt.Errorf("%w: email or phone is required", domain.ErrValidation)
	}
	if len(reg.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}
	user := domain.User{Name: name, AuthMethod: domain.AuthEmail, IsActive: true, SyncStatus: domain.SyncSynced}
	if reg.Email != "" {
		email, err := normalizeEmail(reg.Email)
		if err != nil {
			return nil, err
		}
		user.Email = &email
	}
	if reg.Phone != "" {
		phone, err := normalizePhone(reg.Phone)
		if err != nil {
			return nil, err
		}
		user.Phone = &phone
		if user.Email == nil {
			user.AuthMethod = domain.AuthPhone
		}
	}
	hash, err := utils.HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := contactTaken(tx, user.Email, user.Phone, ""); err != nil {
			return err
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	s.remember(ctx, &user)
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "auth_method": user.AuthMethod}).Info("User registered")
	return &user, nil
}

// contactTaken reports a Conflict when another user already owns email or phone
func contactTaken(tx *gorm.DB, email, phone *string, selfID string) error {
	check := func(col string, v *string) error {
		if v == nil {
			return nil
		}
		q := tx.Model(&domain.User{}).Where(col+" = ?", *v)
		if selfID != "" {
			q = q.Where("id <> ?", selfID)
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s already registered", domain.ErrConflict, col)
		}
		return nil
	}
	if err := check("email", email); err != nil {
		return err
	}
	return check("phone", phone)
}

// Authenticate verifies a password against the account found by email or phone.
// Every failure is ErrUnauthorized so callers cannot probe for accounts.
func (s *UserService) Authenticate(ctx context.Context, email, phone, password string) (*domain.User, error) {
	var user domain.User
	q := s.db.WithContext(ctx)
	switch {
	case email != "":
		q = q.Where("email = ?", strings.ToLower(strings.TrimSpace(email)))
	case phone != "":
		q = q.Where("phone = ?", strings.TrimSpace(phone))
	default:
		return nil, fmt.Errorf("%w: email or phone is required", domain.ErrValidation)
	}
	if err := q.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		logrus.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthorized)
	}
	return &user, nil
}

// Profile returns the user's own profile, from the cache when possible
func (s *UserService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, profileKey(userID), &user)
		if err != nil {
			logrus.WithError(err).Warn("Profile cache read failed") // Fall back to the store
		} else if hit {
			return &user, nil
		}
	}
	if !domain.ValidID(userID) {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFound(err, "user "+userID)
	}
	s.remember(ctx, &user)
	return &user, nil
}

// UpdateProfile changes name and contact fields, then drops the cached copy
func (s *UserService) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*domain.User, error) {
	updates := map[string]any{}
	var email, phone *string
	if patch.Name != nil {
		name, err := cleanName(*patch.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if patch.Email != nil {
		v, err := normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		email = &v
		updates["email"] = v
	}
	if patch.Phone != nil {
		v, err := normalizePhone(*patch.Phone)
		if err != nil {
			return nil, err
		}
		phone = &v
		updates["phone"] = v
	}

	var user domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return notFound(err, "user "+userID)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := contactTaken(tx, email, phone, userID); err != nil {
			return err
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, "id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}
	s.forget(ctx, userID)
	logrus.WithFields(logrus.Fields{"user_id": userID, "fields": len(updates)}).Info("Profile updated")
	return &user, nil
}

// Search finds active users by name, email or phone
func (s *UserService) Search(ctx context.Context, term string, limit, offset int) ([]domain.User, int64, error) {
	limit, offset = clampPage(limit, offset)
	query := s.db.WithContext(ctx).Model(&domain.User{}).Where("is_active = ?", true)
	if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
		like := "%" + term + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", like, like, like)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []domain.User
	if err := query.Order("name").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Delete removes a user and everything they own. Budgets where the user is the
// only admin are deleted first; the remaining memberships are then removed with
// an explicit DELETE so the admin-guard trigger sees every row.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	var orphaned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.User
		if err := tx.Select("id").First(&user, "id = ?", userID).Error; err != nil {
			return notFound(err, "user "+userID)
		}
		res := tx.Where("id IN (?)", soleAdminBudgets(tx, userID)).Delete(&domain.Budget{})
		if res.Error != nil {
			return res.Error
		}
		orphaned = res.RowsAffected
		if err := tx.Where("user_id = ?", userID).Delete(&domain.Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&domain.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&domain.RecurringTransaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error // Sync conflicts and state cascade
	})
	if err != nil {
		return err
	}
	s.forget(ctx, userID)
	logrus.WithFields(logrus.Fields{"user_id": userID, "budgets_deleted": orphaned}).Info("User deleted")
	return nil
}

// soleAdminBudgets selects the budgets whose only admin is userID
func soleAdminBudgets(tx *gorm.DB, userID string) *gorm.DB {
	return tx.Model(&domain.Membership{}).
		Select("budget_id").
		Where("user_id = ? AND role = ?", userID, domain.RoleAdmin).
		Where("NOT EXISTS (SELECT 1 FROM memberships o WHERE o.budget_id = memberships.budget_id AND o.role = ? AND o.user_id <> ?)", domain.RoleAdmin, userID)
}

func (s *UserService) remember(ctx context.Context, user *domain.User) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, profileKey(user.ID), user, s.ttl); err != nil {
		logrus.WithError(err).Warn("Profile cache write failed")
	}
}

func (s *UserService) forget(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, profileKey(userID)); err != nil {
		logrus.WithError(err).Warn("Profile cache invalidation failed")
	}
}
