// Package tiered wraps generation requests in a cascading timeout policy:
// one combined request, then independent per-tier requests, then local
// truncation. Summaries always come back with all three tiers filled.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
)

// MicroLimit is the hard cap on micro summaries, in characters.
const MicroLimit = 280

// Word budgets for the local fallback.
const (
	standardWords = 150
	detailedWords = 300
)

// ErrIncompleteTiers is returned when a combined response lacks a tier.
var ErrIncompleteTiers = errors.New("incomplete tiered response")

// Tiers holds the three summary granularities.
type Tiers struct {
	Micro    string `json:"micro"`
	Standard string `json:"standard"`
	Detailed string `json:"detailed"`
}

// Timeouts are the per-attempt budgets.
type Timeouts struct {
	Combined  time.Duration
	Micro     time.Duration
	Standard  time.Duration
	Detailed  time.Duration
	Chat      time.Duration
	ChatRetry time.Duration
}

// DefaultTimeouts returns the standard budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Combined:  120 * time.Second,
		Micro:     30 * time.Second,
		Standard:  45 * time.Second,
		Detailed:  60 * time.Second,
		Chat:      60 * time.Second,
		ChatRetry: 30 * time.Second,
	}
}

// TimeoutsFromConfig converts configured budgets, keeping the default for
// any left unset.
func TimeoutsFromConfig(g config.Generation) Timeouts {
	t := DefaultTimeouts()
	for _, o := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&t.Combined, g.CombinedTimeout},
		{&t.Micro, g.MicroTimeout},
		{&t.Standard, g.StandardTimeout},
		{&t.Detailed, g.DetailedTimeout},
		{&t.Chat, g.ChatTimeout},
		{&t.ChatRetry, g.ChatRetryTimeout},
	} {
		if o.src > 0 {
			*o.dst = o.src
		}
	}
	return t
}

type tierSpec struct {
	name        string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	prompt      string
}

const combinedPrompt = `Summarize the following article at three levels of detail.

Title: %s

Content:
%s

Respond in exactly this format:
MICRO: <one sentence, at most 280 characters>
STANDARD: <one paragraph of about 100 words>
DETAILED: <two or three paragraphs of about 250 words>`

const microPrompt = `Summarize this article in one sentence of at most 280 characters.

Title: %s

%s`

const standardPrompt = `Summarize this article in one paragraph of about 100 words.

Title: %s

%s`

const detailedPrompt = `Write a detailed summary of this article in two or three paragraphs (about 250 words).

Title: %s

%s`

// Generator applies the tiered policy to a generation backend.
type Generator struct {
	provider llm.Provider
	timeouts Timeouts
	logger   *slog.Logger
}

// New creates a generator. A nil provider makes every summary fall back to
// local truncation and every reply fail.
func New(provider llm.Provider, timeouts Timeouts, logger *slog.Logger) *Generator {
	return &Generator{provider: provider, timeouts: timeouts, logger: logging.OrDefault(logger)}
}

// SummarizeTiers returns micro, standard and detailed summaries. It never
// fails: tiers the backend cannot produce in time are filled locally.
func (g *Generator) SummarizeTiers(ctx context.Context, title, content string) Tiers {
	if g.provider == nil {
		return localTiers(title, content)
	}

	tiers, err := g.combined(ctx, title, content)
	if err == nil {
		tiers.Micro = CapMicro(tiers.Micro)
		return tiers
	}
	g.logger.Info("combined summary failed, generating tiers separately", "title", title, "err", err)

	specs := []tierSpec{
		{name: "micro", timeout: g.timeouts.Micro, temperature: 0.2, maxTokens: 120, prompt: microPrompt},
		{name: "standard", timeout: g.timeouts.Standard, temperature: 0.3, maxTokens: 400, prompt: standardPrompt},
		{name: "detailed", timeout: g.timeouts.Detailed, temperature: 0.4, maxTokens: 900, prompt: detailedPrompt},
	}
	fallbacks := []func(string, string) string{LocalMicro, LocalStandard, LocalDetailed}

	out := make([]string, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec tierSpec) {
			defer wg.Done()
			text, err := g.single(ctx, spec, title, content)
			if err != nil {
				g.logger.Warn("tier generation failed, truncating locally", "tier", spec.name, "err", err)
				text = fallbacks[i](title, content)
			}
			out[i] = text
		}(i, spec)
	}
	wg.Wait()

	return Tiers{Micro: CapMicro(out[0]), Standard: out[1], Detailed: out[2]}
}

func (g *Generator) combined(ctx context.Context, title, content string) (Tiers, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Combined)
	defer cancel()

	text, err := g.provider.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf(combinedPrompt, title, content),
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	if err != nil {
		return Tiers{}, err
	}
	return ParseTiers(text)
}

func (g *Generator) single(ctx context.Context, spec tierSpec, title, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	text, err := g.provider.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf(spec.prompt, title, content),
		MaxTokens:   spec.maxTokens,
		Temperature: spec.temperature,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty %s response", spec.name)
	}
	return text, nil
}

// Reply generates a chat reply, retrying once with the shorter retry budget.
func (g *Generator) Reply(ctx context.Context, req llm.Request) (string, error) {
	if g.provider == nil {
		return "", fmt.Errorf("reply: %w", llm.ErrNotConfigured)
	}

	text, err := g.replyOnce(ctx, req, g.timeouts.Chat)
	if err == nil {
		return text, nil
	}
	g.logger.Warn("chat reply failed, retrying", "err", err)

	text, retryErr := g.replyOnce(ctx, req, g.timeouts.ChatRetry)
	if retryErr != nil {
		return "", fmt.Errorf("reply failed twice: %w", errors.Join(err, retryErr))
	}
	return text, nil
}

func (g *Generator) replyOnce(ctx context.Context, req llm.Request, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := g.provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty reply")
	}
	return text, nil
}

// ReplyStream streams a chat reply. If the stream fails before any text
// arrives, it falls back to Reply and emits the result as one chunk. A
// stream that breaks after emitting text returns what was received.
func (g *Generator) ReplyStream(ctx context.Context, req llm.Request, onChunk func(string)) (string, error) {
	if g.provider == nil {
		return "", fmt.Errorf("reply: %w", llm.ErrNotConfigured)
	}

	streamCtx, cancel := context.WithTimeout(ctx, g.timeouts.Chat)
	emitted := false
	text, err := g.provider.Stream(streamCtx, req, func(chunk string) {
		emitted = true
		onChunk(chunk)
	})
	cancel()

	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if emitted {
		g.logger.Warn("chat stream interrupted", "err", err)
		return text, nil
	}
	g.logger.Warn("chat stream failed, falling back to single reply", "err", err)

	text, err = g.Reply(ctx, req)
	if err != nil {
		return "", err
	}
	onChunk(text)
	return text, nil
}

// ParseTiers splits a MICRO:/STANDARD:/DETAILED: delimited response.
// Markers may carry markdown emphasis or heading marks.
func ParseTiers(text string) (Tiers, error) {
	sections := map[string]*strings.Builder{
		"MICRO":    {},
		"STANDARD": {},
		"DETAILED": {},
	}
	var current *strings.Builder
	for _, line := range strings.Split(text, "\n") {
		clean := strings.TrimLeft(strings.TrimSpace(line), "*#- ")
		upper := strings.ToUpper(clean)
		matched := false
		for name, b := range sections {
			if strings.HasPrefix(upper, name+":") || strings.HasPrefix(upper, name+"**:") {
				rest := clean[len(name):]
				rest = strings.TrimLeft(rest, "*:")
				rest = strings.TrimSpace(strings.TrimLeft(rest, "* "))
				current = b
				if rest != "" {
					current.WriteString(rest)
				}
				matched = true
				break
			}
		}
		if matched || current == nil {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	t := Tiers{
		Micro:    strings.TrimSpace(sections["MICRO"].String()),
		Standard: strings.TrimSpace(sections["STANDARD"].String()),
		Detailed: strings.TrimSpace(sections["DETAILED"].String()),
	}
	var missing []string
	if t.Micro == "" {
		missing = append(missing, "micro")
	}
	if t.Standard == "" {
		missing = append(missing, "standard")
	}
	if t.Detailed == "" {
		missing = append(missing, "detailed")
	}
	if len(missing) > 0 {
		return Tiers{}, fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), ErrIncompleteTiers)
	}
	return t, nil
}

// CapMicro hard-truncates text to MicroLimit characters with a "..." suffix.
func CapMicro(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= MicroLimit {
		return string(r)
	}
	return string(r[:MicroLimit-3]) + "..."
}
