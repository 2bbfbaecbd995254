package handlers

import (
	"github.com/jackc/pgx/v5"
)

// SimpleRow is a pgx.Row backed by a scan func, for stubbing SQL executors.
// A nil scanner behaves like an empty result.
type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}
