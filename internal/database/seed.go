package database

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zaqqye/relay/internal/config"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/models"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/utils"
)

// Seed creates the admin account when no admin exists, then the configured
// extra users that are still absent. It is safe to run on every startup.
func Seed(ctx context.Context, st store.Store, cfg *config.Config) error {
	logger := log.WithComponent("seed")

	count, err := st.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	if count == 0 {
		admin := cfg.Admin
		if admin.Role == "" {
			admin.Role = models.RoleAdmin
		}
		if err := createUser(ctx, st, admin); err != nil {
			return err
		}
		logger.Info().Str("username", admin.Username).Msg("seeded initial admin")
	}

	for _, u := range cfg.Users {
		if _, err := st.UserByUsername(ctx, u.Username); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if u.Role == "" {
			u.Role = models.RoleUser
		}
		if err := createUser(ctx, st, u); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		logger.Info().Str("username", u.Username).Msg("seeded user")
	}
	return nil
}

func createUser(ctx context.Context, st store.Store, seed config.SeedUser) error {
	hashed, err := utils.HashPassword(seed.Password)
	if err != nil {
		return err
	}
	return st.CreateUser(ctx, &models.User{
		UserID:   uuid.NewString(),
		Username: seed.Username,
		FullName: seed.FullName,
		Password: hashed,
		Role:     seed.Role,
		Active:   true,
	})
}
