package db

import (
	"errors"
	"fmt"
	"time"

	"heirloom/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	errDBUnavailable = errors.New("db unavailable")
	errNoRows        = gorm.ErrRecordNotFound
)

// mapErr converts driver and gorm errors into domain errors so the HTTP layer can map them.
func mapErr(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s %s: %s", domain.ErrConflict, kind, id, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s %s: serialization failure", domain.ErrConflict, kind, id)
		case "23503", "22P02":
			// foreign key to a missing row, or an id that is not a uuid
			return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
		}
	}
	return err
}

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func timePtrIfNotZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
