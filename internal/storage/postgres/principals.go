package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
	"github.com/TheGitano/telegram-tts-bot/internal/sqlinline"
)

// Principals is a premium.Source backed by the premium_principals table.
type Principals struct {
	db infra.SQLExecutor
}

func NewPrincipals(db infra.SQLExecutor) *Principals {
	return &Principals{db: db}
}

func (p *Principals) Lookup(ctx context.Context, handle string) (domain.Principal, error) {
	var out domain.Principal
	err := p.db.QueryRow(ctx, sqlinline.QSelectPrincipal, premium.NormalizeHandle(handle)).
		Scan(&out.Handle, &out.SecretHash, &out.DisplayName, &out.Email, &out.ExpiresAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.Principal{}, domain.ErrNotFound
		}
		return domain.Principal{}, fmt.Errorf("select principal: %w", err)
	}
	return out, nil
}

// List returns every principal that has not been revoked, ordered by handle.
func (p *Principals) List(ctx context.Context) ([]domain.Principal, error) {
	rows, err := p.db.Query(ctx, sqlinline.QListPrincipals)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()
	var out []domain.Principal
	for rows.Next() {
		var pr domain.Principal
		if err := rows.Scan(&pr.Handle, &pr.SecretHash, &pr.DisplayName, &pr.Email, &pr.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Principals) Upsert(ctx context.Context, pr domain.Principal) error {
	handle := premium.NormalizeHandle(pr.Handle)
	if handle == "" {
		return fmt.Errorf("principal handle is required")
	}
	if strings.TrimSpace(pr.SecretHash) == "" {
		return fmt.Errorf("principal %q: secret hash is required", handle)
	}
	if pr.ExpiresAt.IsZero() {
		return fmt.Errorf("principal %q: expiry is required", handle)
	}
	_, err := p.db.Exec(ctx, sqlinline.QUpsertPrincipal, handle, pr.SecretHash, pr.DisplayName, pr.Email, pr.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert principal: %w", err)
	}
	return nil
}

// Revoke marks handle revoked. Revoking an unknown handle yields
// domain.ErrNotFound.
func (p *Principals) Revoke(ctx context.Context, handle string) error {
	tag, err := p.db.Exec(ctx, sqlinline.QRevokePrincipal, premium.NormalizeHandle(handle))
	if err != nil {
		return fmt.Errorf("revoke principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
