package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/memory"
	"github.com/TobiSchelling/curator/internal/retrieval"
	"github.com/TobiSchelling/curator/internal/tiered"
)

// Backends are the collaborators shared by every session. Each session gets
// its own memory layer instances built from them. Every field except Web
// is required.
type Backends struct {
	DB        *database.DB
	Generator *tiered.Generator
	Retriever *retrieval.Retriever
	Web       WebSearcher
	Memory    config.Memory
	WebCount  int
	MaxTokens int
	Logger    *slog.Logger
}

// NewOrchestrator builds an orchestrator for one session. userID may be
// empty for an anonymous session, which gets no digests and no
// personalized archive search.
func (b *Backends) NewOrchestrator(ctx context.Context, userID, sessionID string) (*Orchestrator, error) {
	logger := logging.OrDefault(b.Logger).With("session", sessionID)

	var profile *database.User
	if userID != "" {
		p, err := b.DB.LoadProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading profile %s: %w", userID, err)
		}
		profile = p
	}

	immediate := memory.NewImmediate(b.DB, userID, b.Memory.ImmediateItems, b.Memory.ImmediateDigests, logger)
	session := memory.NewSession(b.DB, sessionID)
	archive := memory.NewArchive(b.Retriever, b.DB, b.Memory.ArchiveTopK, b.Memory.ArchiveLookbackDays, logger)

	return New(immediate, session, archive, b.Generator, b.Web, Options{
		Profile:      profile,
		SessionTurns: b.Memory.SessionTurns,
		WebResults:   b.WebCount,
		MaxTokens:    b.MaxTokens,
	}, logger), nil
}

// Similar returns archived items similar to itemID.
func (b *Backends) Similar(ctx context.Context, itemID int64, topK int) []retrieval.Result {
	archive := memory.NewArchive(b.Retriever, b.DB, b.Memory.ArchiveTopK, b.Memory.ArchiveLookbackDays, b.Logger)
	return archive.GetSimilar(ctx, itemID, topK)
}
