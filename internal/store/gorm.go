package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/zaqqye/relay/internal/models"
)

// Gorm persists users and tokens through a GORM connection.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open GORM connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (g *Gorm) CreateUser(ctx context.Context, user *models.User) error {
	return translate(g.db.WithContext(ctx).Create(user).Error)
}

func (g *Gorm) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := g.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (g *Gorm) UserByPublicID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (g *Gorm) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := g.db.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	return users, nil
}

func (g *Gorm) UpdateUser(ctx context.Context, user *models.User) error {
	res := g.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", user.UserID).
		Updates(map[string]any{
			"username":  user.Username,
			"full_name": user.FullName,
			"password":  user.Password,
			"role":      user.Role,
			"active":    user.Active,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) DeleteUser(ctx context.Context, userID string) error {
	res := g.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.User{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) CountByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	if err := g.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&n).Error; err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (g *Gorm) RecordToken(ctx context.Context, tok *models.IssuedToken) error {
	return translate(g.db.WithContext(ctx).Create(tok).Error)
}

func (g *Gorm) TokenByID(ctx context.Context, jti string) (*models.IssuedToken, error) {
	var tok models.IssuedToken
	if err := g.db.WithContext(ctx).Where("token_id = ?", jti).First(&tok).Error; err != nil {
		return nil, translate(err)
	}
	return &tok, nil
}

func (g *Gorm) RevokeToken(ctx context.Context, jti string) error {
	res := g.db.WithContext(ctx).Model(&models.IssuedToken{}).
		Where("token_id = ? AND revoked_at IS NULL", jti).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		var tok models.IssuedToken
		if err := g.db.WithContext(ctx).Where("token_id = ?", jti).First(&tok).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}
