package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
	"github.com/TheGitano/telegram-tts-bot/internal/storage/postgres"
)

type principalStore interface {
	List(ctx context.Context) ([]domain.Principal, error)
	Upsert(ctx context.Context, p domain.Principal) error
	Revoke(ctx context.Context, handle string) error
}

// fileStore edits a principals YAML file in place.
type fileStore struct {
	path string
}

func (f fileStore) List(context.Context) ([]domain.Principal, error) {
	src, err := premium.LoadFile(f.path)
	if err != nil {
		return nil, err
	}
	return src.List(), nil
}

func (f fileStore) Upsert(_ context.Context, p domain.Principal) error {
	src, err := premium.LoadFile(f.path)
	if err != nil {
		return err
	}
	src.Put(p)
	return src.SaveFile(f.path)
}

func (f fileStore) Revoke(_ context.Context, handle string) error {
	src, err := premium.LoadFile(f.path)
	if err != nil {
		return err
	}
	if !src.Remove(handle) {
		return domain.ErrNotFound
	}
	return src.SaveFile(f.path)
}

func (e *env) principals(ctx context.Context) (principalStore, func(), error) {
	if e.file != "" {
		return fileStore{path: e.file}, func() {}, nil
	}
	db, closeDB, err := e.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewPrincipals(db), closeDB, nil
}

func newPrincipalCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage premium principals",
	}
	cmd.AddCommand(newPrincipalAddCmd(e), newPrincipalListCmd(e), newPrincipalRevokeCmd(e))
	return cmd
}

func newPrincipalAddCmd(e *env) *cobra.Command {
	var (
		handle  string
		secret  string
		name    string
		email   string
		days    int
		expires string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or renew a premium principal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle = premium.NormalizeHandle(handle)
			if handle == "" {
				return errors.New("--handle is required")
			}
			exp, err := expiry(e.now(), days, expires)
			if err != nil {
				return err
			}
			hash, err := premium.HashSecret(secret, e.cost)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			store, closeStore, err := e.principals(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p := domain.Principal{
				Handle:      handle,
				SecretHash:  hash,
				DisplayName: strings.TrimSpace(name),
				Email:       strings.TrimSpace(email),
				ExpiresAt:   exp,
			}
			if err := store.Upsert(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "principal %s active until %s\n", handle, exp.Format(time.DateOnly))
			return nil
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "login handle")
	cmd.Flags().StringVar(&secret, "secret", "", "login secret (stored as a bcrypt hash)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().IntVar(&days, "days", 30, "subscription length in days")
	cmd.Flags().StringVar(&expires, "expires", "", "explicit expiry date (YYYY-MM-DD), overrides --days")
	return cmd
}

func expiry(now time.Time, days int, explicit string) (time.Time, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		t, err := time.Parse(time.DateOnly, explicit)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires: %w", err)
		}
		// Valid through the whole day.
		return t.Add(24*time.Hour - time.Second).UTC(), nil
	}
	if days <= 0 {
		return time.Time{}, errors.New("--days must be positive")
	}
	return now.Add(time.Duration(days) * 24 * time.Hour).UTC(), nil
}

func newPrincipalListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List premium principals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			store, closeStore, err := e.principals(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			now := e.now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HANDLE\tNAME\tEMAIL\tEXPIRES\tDAYS LEFT")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.Handle, p.DisplayName, p.Email, p.ExpiresAt.Format(time.DateOnly), p.DaysLeft(now))
			}
			return tw.Flush()
		},
	}
}

func newPrincipalRevokeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <handle>",
		Short: "Revoke a premium principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			store, closeStore, err := e.principals(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			handle := premium.NormalizeHandle(args[0])
			if err := store.Revoke(ctx, handle); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("principal %q not found", handle)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "principal %s revoked\n", handle)
			return nil
		},
	}
}
