// Package session keeps the per-user dialog session for the lifetime of the
// process.
package session

import (
	"context"
	"fmt"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
)

// Field is one collected form value.
type Field struct {
	Name  string
	Value string
}

// Session is the dialog position of one user.
type Session struct {
	State              fsm.State
	Form               []Field
	AwaitingCapability domain.Capability
	PremiumContext     bool
	Principal          *domain.Principal
	PendingHandle      string
	LastArtifact       *domain.ExtractedArtifact
}

// New returns a session resting at MENU.
func New() Session {
	return Session{State: fsm.StateMenu}
}

// Value returns the form value collected under name.
func (s Session) Value(name string) string {
	for _, f := range s.Form {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Append records a form value, keeping collection order.
func (s *Session) Append(name, value string) {
	s.Form = append(s.Form, Field{Name: name, Value: value})
}

// ResetToMenu clears the pending form and awaiting capability and drops the
// last artifact. The authenticated principal survives.
func (s *Session) ResetToMenu() {
	s.State = fsm.StateMenu
	s.Form = nil
	s.AwaitingCapability = ""
	s.PendingHandle = ""
	s.LastArtifact = nil
}

// Logout clears everything including the premium binding.
func (s *Session) Logout() {
	s.ResetToMenu()
	s.Principal = nil
	s.PremiumContext = false
}

func (s Session) clone() Session {
	out := s
	out.Form = append([]Field(nil), s.Form...)
	if s.Principal != nil {
		p := *s.Principal
		out.Principal = &p
	}
	if s.LastArtifact != nil {
		a := *s.LastArtifact
		out.LastArtifact = &a
	}
	return out
}

// Store persists sessions behind a kv.Store.
type Store struct {
	kv     kv.Store[Session]
	logger *infra.Logger
}

func NewStore(backend kv.Store[Session], logger *infra.Logger) *Store {
	if backend == nil {
		backend = kv.NewMemory[Session]()
	}
	return &Store{kv: backend, logger: infra.OrDiscard(logger)}
}

// Load returns the user's session, creating a fresh one on first contact.
func (s *Store) Load(ctx context.Context, user domain.UserID) (Session, error) {
	sess, ok, err := s.kv.Get(ctx, string(user))
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return New(), nil
	}
	return sess.clone(), nil
}

// Save stores sess. A session resting at MENU never keeps artifact bytes.
func (s *Store) Save(ctx context.Context, user domain.UserID, sess Session) error {
	if sess.State == fsm.StateMenu && sess.LastArtifact != nil {
		sess.LastArtifact = nil
		s.logger.Debug().Str("user_id", string(user)).Msg("session: artifact released")
	}
	if err := s.kv.Set(ctx, string(user), sess.clone()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete forgets the user's session.
func (s *Store) Delete(ctx context.Context, user domain.UserID) error {
	if err := s.kv.Delete(ctx, string(user)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
