// Package chat answers questions about curated content through a fixed
// seven-step pipeline over three memory layers and optional web search.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/memory"
	"github.com/TobiSchelling/curator/internal/retrieval"
)

// Apology is the answer given when generation fails.
const Apology = "I'm sorry, I couldn't put together an answer right now. Please try again in a moment."

// Confidence model.
const (
	baseConfidence      = 0.6
	archiveConfidence   = 0.2
	immediateConfidence = 0.1
	webConfidence       = 0.1
	maxConfidence       = 0.95
	maxSourcesListed    = 3
)

const systemPrompt = `You are a news assistant for a personalized digest service. Answer the user's question using the context below when it is relevant. Cite items by title when you rely on them. If the context does not cover the question, say so briefly and answer from general knowledge.`

// ImmediateLayer provides today's items and digests.
type ImmediateLayer interface {
	Load(ctx context.Context) (string, error)
	Clear()
}

// SessionLayer provides and records the conversation history.
type SessionLayer interface {
	GetRecent(ctx context.Context, n int) ([]database.Turn, error)
	Append(ctx context.Context, role, content string, metadata *database.TurnMetadata) error
	Clear()
}

// ArchiveLayer provides semantic search over historical items.
type ArchiveLayer interface {
	Load(ctx context.Context, query string, profile *database.User) string
	Hits() []retrieval.Result
	Clear()
}

// Replier generates the answer.
type Replier interface {
	Reply(ctx context.Context, req llm.Request) (string, error)
	ReplyStream(ctx context.Context, req llm.Request, onChunk func(string)) (string, error)
}

// WebSearcher augments answers with live results.
type WebSearcher interface {
	IsAvailable() bool
	SearchForContext(ctx context.Context, query string, n int) (string, error)
}

// Citation is an archived item an answer drew on.
type Citation struct {
	ItemID    int64   `json:"item_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Relevance float64 `json:"relevance"`
}

// Result is the outcome of one conversation turn.
type Result struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	LayersUsed []string   `json:"layers_used"`
	QueryType  QueryType  `json:"query_type"`
	StepCount  int        `json:"step_count"`
}

// State is threaded through the pipeline for one turn.
type State struct {
	Message        string
	Classification Classification

	ImmediateContext *string
	SessionTurns     []database.Turn
	ArchiveContext   *string
	ArchiveHits      []retrieval.Result
	WebContext       *string

	Answer     string
	Citations  []Citation
	Confidence float64
	StepCount  int

	onChunk func(string)
}

type step struct {
	name string
	run  func(ctx context.Context, s *State)
}

// Options configures an orchestrator.
type Options struct {
	Profile      *database.User
	SessionTurns int
	WebResults   int
	MaxTokens    int
}

// Orchestrator runs conversation turns for one session. Turns are
// serialized; layer caches belong to this session only.
type Orchestrator struct {
	immediate ImmediateLayer
	session   SessionLayer
	archive   ArchiveLayer
	generator Replier
	web       WebSearcher
	opts      Options
	logger    *slog.Logger
	steps     []step

	mu sync.Mutex
}

// New creates an orchestrator. web may be nil.
func New(immediate ImmediateLayer, session SessionLayer, archive ArchiveLayer, generator Replier, web WebSearcher, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.SessionTurns <= 0 {
		opts.SessionTurns = memory.DefaultSessionTurns
	}
	if opts.WebResults <= 0 {
		opts.WebResults = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	o := &Orchestrator{
		immediate: immediate,
		session:   session,
		archive:   archive,
		generator: generator,
		web:       web,
		opts:      opts,
		logger:    logging.OrDefault(logger),
	}
	o.steps = []step{
		{"classify", o.classify},
		{"load_immediate", o.loadImmediate},
		{"load_session", o.loadSession},
		{"load_archive", o.loadArchive},
		{"load_web", o.loadWeb},
		{"generate", o.generate},
		{"format", o.format},
	}
	return o
}

// Send answers one message and records both turns in the session.
func (o *Orchestrator) Send(ctx context.Context, message string) Result {
	return o.run(ctx, message, nil)
}

// SendStream is Send with the answer streamed through onChunk as it is
// generated. The sources block, if any, arrives as a final chunk.
func (o *Orchestrator) SendStream(ctx context.Context, message string, onChunk func(string)) Result {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return o.run(ctx, message, onChunk)
}

// Reset clears every layer cache.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.immediate.Clear()
	o.session.Clear()
	o.archive.Clear()
}

func (o *Orchestrator) run(ctx context.Context, message string, onChunk func(string)) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := &State{Message: message, onChunk: onChunk}
	for _, st := range o.steps {
		s.StepCount++
		st.run(ctx, s)
		o.logger.Debug("chat step done", "step", st.name, "count", s.StepCount)
	}

	result := Result{
		Answer:     s.Answer,
		Citations:  s.Citations,
		Confidence: s.Confidence,
		LayersUsed: layersUsed(s),
		QueryType:  s.Classification.QueryType,
		StepCount:  s.StepCount,
	}
	o.persist(ctx, s, result)
	return result
}

func (o *Orchestrator) classify(_ context.Context, s *State) {
	s.Classification = Classify(s.Message)
	o.logger.Debug("message classified", "query_type", s.Classification.QueryType,
		"layers", s.Classification.Layers, "web", s.Classification.NeedsWebSearch)
}

func (o *Orchestrator) loadImmediate(ctx context.Context, s *State) {
	if !s.Classification.Has(LayerImmediate) {
		return
	}
	text, err := o.immediate.Load(ctx)
	if err != nil {
		o.logger.Warn("immediate context unavailable", "err", err)
		return
	}
	s.ImmediateContext = &text
}

func (o *Orchestrator) loadSession(ctx context.Context, s *State) {
	if !s.Classification.Has(LayerSession) {
		return
	}
	turns, err := o.session.GetRecent(ctx, o.opts.SessionTurns)
	if err != nil {
		o.logger.Warn("session history unavailable", "err", err)
		return
	}
	s.SessionTurns = turns
}

func (o *Orchestrator) loadArchive(ctx context.Context, s *State) {
	if !s.Classification.Has(LayerArchive) {
		return
	}
	text := o.archive.Load(ctx, s.Message, o.opts.Profile)
	s.ArchiveContext = &text
	s.ArchiveHits = o.archive.Hits()
	for _, h := range s.ArchiveHits {
		s.Citations = append(s.Citations, Citation{
			ItemID:    h.Item.ID,
			Title:     h.Item.Title,
			URL:       h.Item.URL,
			Relevance: h.Similarity,
		})
	}
}

func (o *Orchestrator) loadWeb(ctx context.Context, s *State) {
	if !s.Classification.NeedsWebSearch || o.web == nil || !o.web.IsAvailable() {
		return
	}
	text, err := o.web.SearchForContext(ctx, s.Message, o.opts.WebResults)
	if err != nil {
		o.logger.Warn("web search failed", "err", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	s.WebContext = &text
}

func (o *Orchestrator) generate(ctx context.Context, s *State) {
	req := llm.Request{
		Prompt:      s.Message,
		System:      systemContext(s),
		History:     memory.History(s.SessionTurns),
		MaxTokens:   o.opts.MaxTokens,
		Temperature: 0.5,
	}

	var answer string
	var err error
	if s.onChunk != nil {
		answer, err = o.generator.ReplyStream(ctx, req, s.onChunk)
	} else {
		answer, err = o.generator.Reply(ctx, req)
	}
	if err != nil {
		o.logger.Error("generation failed, answering with apology", "err", err)
		s.Answer = Apology
		s.Confidence = 0
		if s.onChunk != nil {
			s.onChunk(Apology)
		}
		return
	}

	s.Answer = strings.TrimSpace(answer)
	s.Confidence = confidence(s)
}

func (o *Orchestrator) format(_ context.Context, s *State) {
	if len(s.Citations) == 0 {
		return
	}
	block := SourcesBlock(s.Citations)
	s.Answer += block
	if s.onChunk != nil {
		s.onChunk(block)
	}
}

func (o *Orchestrator) persist(ctx context.Context, s *State, r Result) {
	if err := o.session.Append(ctx, database.RoleUser, s.Message, nil); err != nil {
		o.logger.Error("failed to persist user turn", "err", err)
		return
	}

	conf := r.Confidence
	citations := make([]database.TurnCitation, len(r.Citations))
	for i, c := range r.Citations {
		citations[i] = database.TurnCitation{ItemID: c.ItemID, Title: c.Title, URL: c.URL, Relevance: c.Relevance}
	}
	md := &database.TurnMetadata{
		Citations:  citations,
		Confidence: &conf,
		LayersUsed: r.LayersUsed,
		QueryType:  string(r.QueryType),
	}
	if err := o.session.Append(ctx, database.RoleAssistant, r.Answer, md); err != nil {
		o.logger.Error("failed to persist assistant turn", "err", err)
	}
}

// systemContext concatenates the digest, archive and web sections that are
// present, in that order.
func systemContext(s *State) string {
	parts := []string{systemPrompt}
	if s.ImmediateContext != nil && *s.ImmediateContext != "" {
		parts = append(parts, "## Today's digest context\n"+*s.ImmediateContext)
	}
	if s.ArchiveContext != nil && *s.ArchiveContext != "" {
		parts = append(parts, "## Archive context\n"+*s.ArchiveContext)
	}
	if s.WebContext != nil && *s.WebContext != "" {
		parts = append(parts, "## Web search results\n"+*s.WebContext)
	}
	return strings.Join(parts, "\n\n")
}

func confidence(s *State) float64 {
	c := baseConfidence
	if len(s.ArchiveHits) > 0 {
		c += archiveConfidence
	}
	if s.ImmediateContext != nil && *s.ImmediateContext != "" {
		c += immediateConfidence
	}
	if s.WebContext != nil {
		c += webConfidence
	}
	return math.Min(maxConfidence, math.Round(c*100)/100)
}

// SourcesBlock lists up to three citations with their relevance.
func SourcesBlock(citations []Citation) string {
	var b strings.Builder
	b.WriteString("\n\nSources:")
	for i, c := range citations {
		if i == maxSourcesListed {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s (Relevance: %.0f%%)", i+1, c.Title, c.Relevance*100)
	}
	return b.String()
}

func layersUsed(s *State) []string {
	var used []string
	for _, l := range s.Classification.Layers {
		used = append(used, string(l))
	}
	if s.WebContext != nil {
		used = append(used, string(LayerWeb))
	}
	return used
}
