// Package premium resolves premium principals and verifies their secrets.
package premium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

// ErrExpired is returned after a correct secret when the subscription lapsed.
var ErrExpired = errors.New("premium subscription expired")

// Source looks principals up by handle and returns domain.ErrNotFound when
// the handle is unknown.
type Source interface {
	Lookup(ctx context.Context, handle string) (domain.Principal, error)
}

// Options configures a Directory.
type Options struct {
	Source Source
	Now    func() time.Time
	Logger *infra.Logger
}

// Directory authenticates handle+secret pairs against a Source.
type Directory struct {
	source Source
	now    func() time.Time
	logger *infra.Logger
}

func NewDirectory(opts Options) *Directory {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	source := opts.Source
	if source == nil {
		source = NewStatic(nil)
	}
	return &Directory{source: source, now: now, logger: infra.OrDiscard(opts.Logger)}
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// dummy keeps the unknown-handle path as slow as a real comparison.
func dummy() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-secret"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// Authenticate verifies handle and secret together. Unknown handles and wrong
// secrets both yield domain.ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, handle, secret string) (domain.Principal, error) {
	handle = NormalizeHandle(handle)
	p, err := d.source.Lookup(ctx, handle)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(dummy(), []byte(secret))
		d.logger.Info().Msg("premium: login rejected")
		return domain.Principal{}, domain.ErrInvalidCredentials
	case err != nil:
		return domain.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.SecretHash), []byte(secret)); err != nil {
		d.logger.Info().Msg("premium: login rejected")
		return domain.Principal{}, domain.ErrInvalidCredentials
	}
	if !p.Active(d.now()) {
		return p, ErrExpired
	}
	return p, nil
}

// NormalizeHandle strips a leading @ and surrounding space, lowercasing the rest.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// HashSecret produces the bcrypt hash stored for a principal.
func HashSecret(secret string, cost int) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret is required")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Static is an in-memory Source.
type Static struct {
	mu         sync.RWMutex
	principals map[string]domain.Principal
}

func NewStatic(principals []domain.Principal) *Static {
	s := &Static{principals: make(map[string]domain.Principal, len(principals))}
	for _, p := range principals {
		p.Handle = NormalizeHandle(p.Handle)
		s.principals[p.Handle] = p
	}
	return s
}

func (s *Static) Lookup(_ context.Context, handle string) (domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[NormalizeHandle(handle)]
	if !ok {
		return domain.Principal{}, domain.ErrNotFound
	}
	return p, nil
}

// List returns principals sorted by handle.
func (s *Static) List() []domain.Principal {
	s.mu.RLock()
	out := make([]domain.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Put adds p or replaces the principal with the same handle.
func (s *Static) Put(p domain.Principal) {
	p.Handle = NormalizeHandle(p.Handle)
	s.mu.Lock()
	s.principals[p.Handle] = p
	s.mu.Unlock()
}

// Remove drops handle and reports whether it was present.
func (s *Static) Remove(handle string) bool {
	handle = NormalizeHandle(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[handle]; !ok {
		return false
	}
	delete(s.principals, handle)
	return true
}

// SaveFile writes the principals in the format LoadFile reads.
func (s *Static) SaveFile(path string) error {
	raw, err := MarshalYAML(s.List())
	if err != nil {
		return fmt.Errorf("encode principals: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write principals file: %w", err)
	}
	return nil
}

type principalsFile struct {
	Principals []domain.Principal `yaml:"principals"`
}

// LoadFile reads a YAML principal list. A missing file yields an empty source.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewStatic(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read principals file: %w", err)
	}
	return ParseYAML(raw)
}

// ParseYAML decodes a principal list and validates each entry.
func ParseYAML(raw []byte) (*Static, error) {
	var file principalsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode principals: %w", err)
	}
	for i, p := range file.Principals {
		if NormalizeHandle(p.Handle) == "" {
			return nil, fmt.Errorf("principal %d: handle is required", i)
		}
		if p.SecretHash == "" {
			return nil, fmt.Errorf("principal %q: secret_hash is required", p.Handle)
		}
		if p.ExpiresAt.IsZero() {
			return nil, fmt.Errorf("principal %q: expires_at is required", p.Handle)
		}
	}
	return NewStatic(file.Principals), nil
}

// MarshalYAML renders principals in the format ParseYAML reads.
func MarshalYAML(principals []domain.Principal) ([]byte, error) {
	return yaml.Marshal(principalsFile{Principals: principals})
}

// Chain consults each source in order and returns the first hit.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, handle string) (domain.Principal, error) {
	for _, s := range c {
		p, err := s.Lookup(ctx, handle)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return p, err
	}
	return domain.Principal{}, domain.ErrNotFound
}
