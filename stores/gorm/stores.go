//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	sa "github.com/panyam/secretauth"
)

//go:embed migrations/*.sql
var migrations embed.FS

// AutoMigrate creates or updates the tables with GORM. Use Migrate for
// versioned migrations on postgres.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&IdentityModel{},
		&SessionModel{},
	)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded SQL migrations to a postgres database opened
// with the pgx stdlib driver.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a unique index
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements sa.IdentityStore using GORM. Uniqueness of
// usernames and provider ids is left to the database's unique indexes.
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) first(ctx context.Context, query string, arg any) (*sa.Identity, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).First(&model, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sa.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*sa.Identity, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*sa.Identity, error) {
	key := sa.NormalizeUsername(username)
	if key == "" {
		return nil, sa.ErrNotFound
	}
	return s.first(ctx, "username_key = ?", key)
}

func (s *IdentityStore) FindByProviderID(ctx context.Context, providerID string) (*sa.Identity, error) {
	if providerID == "" {
		return nil, sa.ErrNotFound
	}
	return s.first(ctx, "provider_id = ?", providerID)
}

func (s *IdentityStore) Insert(ctx context.Context, identity *sa.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Create(IdentityToModel(identity)).Error
	if isUniqueViolation(err) {
		return sa.ErrConflict
	}
	return err
}

func (s *IdentityStore) UpdateSecret(ctx context.Context, id string, secret string) error {
	result := s.db.WithContext(ctx).Model(&IdentityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"secret": secret, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sa.ErrNotFound
	}
	return nil
}

func (s *IdentityStore) UpdateLocalCredential(ctx context.Context, id string, username string, passwordHash string) error {
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return sa.ErrInvalidIdentity
	}
	result := s.db.WithContext(ctx).Model(&IdentityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"username":      strings.TrimSpace(username),
			"username_key":  sa.NormalizeUsername(username),
			"password_hash": passwordHash,
			"updated_at":    time.Now().UTC(),
		})
	if isUniqueViolation(result.Error) {
		return sa.ErrConflict
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sa.ErrNotFound
	}
	return nil
}

func (s *IdentityStore) ListWithSecrets(ctx context.Context) ([]*sa.Identity, error) {
	var models []IdentityModel
	if err := s.db.WithContext(ctx).Where("secret IS NOT NULL").Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*sa.Identity, len(models))
	for i := range models {
		out[i] = models[i].ToIdentity()
	}
	return out, nil
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore implements scs.CtxStore over the sessions table
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).First(&model, "token = ? AND expiry > ?", token, time.Now().UTC()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "expiry"}),
	}).Create(&SessionModel{Token: token, Data: b, Expiry: expiry.UTC()}).Error
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "token = ?", token).Error
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// DeleteExpired removes expired sessions and returns how many were removed
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expiry <= ?", time.Now().UTC()).Delete(&SessionModel{})
	return result.RowsAffected, result.Error
}

// StartCleanup runs DeleteExpired every interval until ctx is done
func (s *SessionStore) StartCleanup(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.DeleteExpired(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}
