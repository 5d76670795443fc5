// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rafaelmp/comexflow/internal/domain"
)

const (
	pgUniqueViolation = "23505"
	pgLockNotAvail    = "55P03"
)

// wrapDBErr classifies low-level database failures into the engine's error
// kinds. Lock and deadline failures become retryable ErrUnavailable; unique
// violations become ErrConflict. Anything else passes through untouched.
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case pgLockNotAvail:
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
	}

	return err
}
