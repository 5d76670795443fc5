// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rafaelmp/comexflow/internal/domain"
)

func TestConstructorsDefaultLogger(t *testing.T) {
	if repo := NewProcessRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected process repository to fall back to default logger")
	}
	if repo := NewDefinitionRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected definition repository to fall back to default logger")
	}
	if repo := NewUserRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected user repository to fall back to default logger")
	}
	if repo := NewEventRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected event repository to fall back to default logger")
	}
}

func TestWrapDBErr(t *testing.T) {
	if got := wrapDBErr(nil); got != nil {
		t.Fatalf("expected nil for nil error, got %v", got)
	}

	if got := wrapDBErr(context.DeadlineExceeded); !errors.Is(got, domain.ErrUnavailable) {
		t.Fatalf("expected deadline to map to unavailable, got %v", got)
	}
	if got := wrapDBErr(context.Canceled); !errors.Is(got, domain.ErrUnavailable) {
		t.Fatalf("expected cancellation to map to unavailable, got %v", got)
	}

	unique := &pgconn.PgError{Code: pgUniqueViolation}
	if got := wrapDBErr(unique); !errors.Is(got, domain.ErrConflict) {
		t.Fatalf("expected unique violation to map to conflict, got %v", got)
	}

	locked := &pgconn.PgError{Code: pgLockNotAvail}
	if got := wrapDBErr(locked); !errors.Is(got, domain.ErrUnavailable) {
		t.Fatalf("expected lock timeout to map to unavailable, got %v", got)
	}

	plain := errors.New("syntax error")
	if got := wrapDBErr(plain); got != plain {
		t.Fatalf("expected unclassified error to pass through, got %v", got)
	}
}
