package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
)

// DefaultSessionTurns is the number of user+assistant exchanges replayed.
const DefaultSessionTurns = 5

// TurnStore persists conversation turns.
type TurnStore interface {
	AppendTurn(ctx context.Context, t database.Turn) (int64, error)
	GetTurns(ctx context.Context, sessionID string, limit int) ([]database.Turn, error)
}

// Session is the append-only turn log of one conversation.
type Session struct {
	store     TurnStore
	sessionID string

	mu     sync.Mutex
	loaded bool
	turns  []database.Turn
}

// NewSession creates the session layer.
func NewSession(store TurnStore, sessionID string) *Session {
	return &Session{store: store, sessionID: sessionID}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.sessionID }

// Append persists a turn and adds it to the cache.
func (s *Session) Append(ctx context.Context, role, content string, metadata *database.TurnMetadata) error {
	turn := database.Turn{SessionID: s.sessionID, Role: role, Content: content, Metadata: metadata}
	id, err := s.store.AppendTurn(ctx, turn)
	if err != nil {
		return fmt.Errorf("appending %s turn: %w", role, err)
	}
	turn.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		s.turns = append(s.turns, turn)
	}
	return nil
}

func (s *Session) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	turns, err := s.store.GetTurns(ctx, s.sessionID, 0)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", s.sessionID, err)
	}
	s.turns = turns
	s.loaded = true
	return nil
}

// GetRecent returns the last 2×n turns in chronological order.
func (s *Session) GetRecent(ctx context.Context, n int) ([]database.Turn, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultSessionTurns
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.turns) - 2*n
	if start < 0 {
		start = 0
	}
	out := make([]database.Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out, nil
}

// Load returns the recent turns as transcript text.
func (s *Session) Load(ctx context.Context, n int) (string, error) {
	turns, err := s.GetRecent(ctx, n)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, t := range turns {
		speaker := "User"
		if t.Role == database.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// History converts turns into generation messages.
func History(turns []database.Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}

// Clear drops the cache. Persisted turns are untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.turns = nil
}
