package tiered

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
)

func fastTimeouts() Timeouts {
	return Timeouts{
		Combined:  50 * time.Millisecond,
		Micro:     20 * time.Millisecond,
		Standard:  20 * time.Millisecond,
		Detailed:  20 * time.Millisecond,
		Chat:      20 * time.Millisecond,
		ChatRetry: 20 * time.Millisecond,
	}
}

// scriptedProvider answers by matching the prompt; a nil handler blocks
// until the context expires.
type scriptedProvider struct {
	mu       sync.Mutex
	handler  func(req llm.Request) (string, error)
	stream   func(req llm.Request, onChunk func(string)) (string, error)
	requests []llm.Request
}

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.handler == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.handler(req)
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request, onChunk func(string)) (string, error) {
	if p.stream == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.stream(req, onChunk)
}

func (p *scriptedProvider) IsConfigured() bool { return true }

func (p *scriptedProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

const article = "Acme unveiled a warehouse robot on Tuesday. It lifts twice the weight of rivals. Shipments begin in May."

func TestParseTiers(t *testing.T) {
	text := "MICRO: Acme ships a robot.\nSTANDARD: Acme unveiled a robot.\nIt is strong.\n**DETAILED:** Long form text."
	tiers, err := ParseTiers(text)
	require.NoError(t, err)
	assert.Equal(t, "Acme ships a robot.", tiers.Micro)
	assert.Equal(t, "Acme unveiled a robot.\nIt is strong.", tiers.Standard)
	assert.Equal(t, "Long form text.", tiers.Detailed)

	tiers, err = ParseTiers("## MICRO:\nshort\n## STANDARD:\nmedium\n## DETAILED:\nlong")
	require.NoError(t, err)
	assert.Equal(t, "short", tiers.Micro)
	assert.Equal(t, "long", tiers.Detailed)
}

func TestParseTiersMissingSection(t *testing.T) {
	_, err := ParseTiers("MICRO: short\nSTANDARD: medium")
	assert.ErrorIs(t, err, ErrIncompleteTiers)

	_, err = ParseTiers("just prose with no markers")
	assert.ErrorIs(t, err, ErrIncompleteTiers)
}

func TestCapMicro(t *testing.T) {
	assert.Equal(t, "short", CapMicro("  short "))
	long := strings.Repeat("é", 400)
	capped := CapMicro(long)
	assert.Equal(t, MicroLimit, len([]rune(capped)))
	assert.True(t, strings.HasSuffix(capped, "..."))
}

func TestLocalFallbacks(t *testing.T) {
	assert.Equal(t, "Acme unveiled a warehouse robot on Tuesday.", LocalMicro("Title", article))
	assert.Equal(t, "Title only", LocalMicro("Title only", ""))
	assert.Equal(t, "Untitled", LocalMicro("", "  "))
	assert.Equal(t, "v1.2 is out", LocalMicro("", "v1.2 is out"))

	words := strings.Repeat("word ", 500)
	assert.Len(t, strings.Fields(LocalStandard("", words)), 150)
	assert.Len(t, strings.Fields(LocalDetailed("", words)), 300)
	assert.Equal(t, article, LocalDetailed("", article))
}

func TestSummarizeTiersCombinedSuccess(t *testing.T) {
	p := &scriptedProvider{handler: func(req llm.Request) (string, error) {
		return "MICRO: " + strings.Repeat("x", 300) + "\nSTANDARD: std\nDETAILED: det", nil
	}}
	g := New(p, fastTimeouts(), logging.Discard())

	tiers := g.SummarizeTiers(context.Background(), "Acme robot", article)
	assert.Equal(t, 1, p.count(), "single combined request")
	assert.Len(t, []rune(tiers.Micro), MicroLimit)
	assert.Equal(t, "std", tiers.Standard)
	assert.Equal(t, "det", tiers.Detailed)
}

func TestSummarizeTiersFallsBackPerTier(t *testing.T) {
	p := &scriptedProvider{handler: func(req llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "Summarize the following article at three levels"):
			return "MICRO: only micro", nil
		case strings.HasPrefix(req.Prompt, "Summarize this article in one sentence"):
			return "Generated micro.", nil
		case strings.HasPrefix(req.Prompt, "Summarize this article in one paragraph"):
			return "", errors.New("backend error")
		default:
			return "Generated detailed.", nil
		}
	}}
	g := New(p, fastTimeouts(), logging.Discard())

	tiers := g.SummarizeTiers(context.Background(), "Acme robot", article)
	assert.Equal(t, 4, p.count())
	assert.Equal(t, "Generated micro.", tiers.Micro)
	assert.Equal(t, article, tiers.Standard, "failed tier truncated locally")
	assert.Equal(t, "Generated detailed.", tiers.Detailed)

	temps := map[float64]bool{}
	for _, r := range p.requests[1:] {
		temps[r.Temperature] = true
	}
	assert.Len(t, temps, 3, "each tier has its own temperature")
}

func TestSummarizeTiersAlwaysTimingOut(t *testing.T) {
	p := &scriptedProvider{}
	g := New(p, fastTimeouts(), logging.Discard())

	start := time.Now()
	tiers := g.SummarizeTiers(context.Background(), "Acme robot", strings.Repeat("Long sentence without end ", 40))
	elapsed := time.Since(start)

	assert.NotEmpty(t, tiers.Micro)
	assert.LessOrEqual(t, len([]rune(tiers.Micro)), MicroLimit)
	assert.NotEmpty(t, tiers.Standard)
	assert.NotEmpty(t, tiers.Detailed)
	assert.Equal(t, 4, p.count())
	assert.Less(t, elapsed, time.Second, "tiers run concurrently within their own budgets")
}

func TestSummarizeTiersWithoutProvider(t *testing.T) {
	tiers := New(nil, fastTimeouts(), logging.Discard()).SummarizeTiers(context.Background(), "", "")
	assert.Equal(t, Tiers{Micro: "Untitled", Standard: "Untitled", Detailed: "Untitled"}, tiers)
}

func TestReplyRetriesOnce(t *testing.T) {
	calls := 0
	p := &scriptedProvider{handler: func(req llm.Request) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "second time lucky", nil
	}}
	g := New(p, fastTimeouts(), logging.Discard())

	text, err := g.Reply(context.Background(), llm.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, 2, calls)
}

func TestReplyFailsAfterRetry(t *testing.T) {
	g := New(&scriptedProvider{}, fastTimeouts(), logging.Discard())
	_, err := g.Reply(context.Background(), llm.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = New(nil, fastTimeouts(), logging.Discard()).Reply(context.Background(), llm.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestReplyStream(t *testing.T) {
	p := &scriptedProvider{stream: func(req llm.Request, onChunk func(string)) (string, error) {
		onChunk("Hel")
		onChunk("lo")
		return "Hello", nil
	}}
	g := New(p, fastTimeouts(), logging.Discard())

	var chunks []string
	text, err := g.ReplyStream(context.Background(), llm.Request{Prompt: "hi"}, func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestReplyStreamFallsBackBeforeFirstChunk(t *testing.T) {
	p := &scriptedProvider{
		stream: func(llm.Request, func(string)) (string, error) {
			return "", errors.New("stream refused")
		},
		handler: func(llm.Request) (string, error) { return "non-streamed", nil },
	}
	g := New(p, fastTimeouts(), logging.Discard())

	var chunks []string
	text, err := g.ReplyStream(context.Background(), llm.Request{Prompt: "hi"}, func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "non-streamed", text)
	assert.Equal(t, []string{"non-streamed"}, chunks)
}

func TestReplyStreamKeepsPartialOutput(t *testing.T) {
	p := &scriptedProvider{stream: func(_ llm.Request, onChunk func(string)) (string, error) {
		onChunk("partial")
		return "partial", errors.New("connection reset")
	}}
	g := New(p, fastTimeouts(), logging.Discard())

	text, err := g.ReplyStream(context.Background(), llm.Request{Prompt: "hi"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
	assert.Equal(t, 0, p.count(), "no second request once text was shown")
}

func TestTimeoutsFromConfig(t *testing.T) {
	got := TimeoutsFromConfig(config.Generation{MicroTimeout: 5 * time.Second, ChatRetryTimeout: time.Second})
	want := DefaultTimeouts()
	want.Micro = 5 * time.Second
	want.ChatRetry = time.Second
	assert.Equal(t, want, got)
}
