// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const adminRole = "admin"

// UserRepository answers role questions for actors. It is the storage-backed
// implementation of the engine's RoleAuthority collaborator; identity itself
// is established upstream (JWT middleware) and treated as opaque here.
type UserRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewUserRepository(pool *pgxpool.Pool, logger *slog.Logger) *UserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &UserRepository{
		pool:   pool,
		logger: logger,
	}
}

// HasRole reports whether the actor holds the given role. Unknown actors hold
// no roles. An admin acts in any role.
func (r *UserRepository) HasRole(ctx context.Context, actorID, role string) (bool, error) {
	var stored string
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM users WHERE id=$1`,
		actorID,
	).Scan(&stored)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("role lookup failed", "actor_id", actorID, "error", err)
		return false, wrapDBErr(err)
	}

	return stored == role || stored == adminRole, nil
}

// SaveUser upserts an actor's role assignment.
func (r *UserRepository) SaveUser(ctx context.Context, id, name, role string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, role=EXCLUDED.role
	`, id, name, role)
	if err != nil {
		r.logger.Error("save user failed", "user_id", id, "error", err)
		return wrapDBErr(err)
	}

	return nil
}
