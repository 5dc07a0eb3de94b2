package chat

import (
	"strings"
	"unicode"
)

// QueryType is the classification of a user message.
type QueryType string

// Query types, in classification priority order.
const (
	Greeting           QueryType = "greeting"
	TodayQuestion      QueryType = "today_question"
	HistoricalQuestion QueryType = "historical_question"
	Question           QueryType = "question"
	General            QueryType = "general"
)

// Layer names a context source.
type Layer string

// Context layers. LayerWeb is reported in LayersUsed but is never part of
// a classification's active set.
const (
	LayerImmediate Layer = "immediate"
	LayerSession   Layer = "session"
	LayerArchive   Layer = "archive"
	LayerWeb       Layer = "web"
)

var layerSets = map[QueryType][]Layer{
	Greeting:           {LayerImmediate},
	TodayQuestion:      {LayerImmediate, LayerSession},
	HistoricalQuestion: {LayerSession, LayerArchive},
	Question:           {LayerImmediate, LayerSession, LayerArchive},
	General:            {LayerSession},
}

// Classification is the outcome of Classify.
type Classification struct {
	QueryType      QueryType
	Layers         []Layer
	NeedsWebSearch bool
}

// Has reports whether layer is active.
func (c Classification) Has(layer Layer) bool {
	for _, l := range c.Layers {
		if l == layer {
			return true
		}
	}
	return false
}

// keywords matches single words against tokens and multi-word phrases
// against the whole lower-cased message.
type keywords []string

func (k keywords) in(m message) bool {
	for _, kw := range k {
		if strings.Contains(kw, " ") {
			if strings.Contains(m.text, kw) {
				return true
			}
			continue
		}
		if _, ok := m.tokens[kw]; ok {
			return true
		}
	}
	return false
}

var (
	greetingWords = keywords{
		"hello", "hi", "hey", "hiya", "howdy", "greetings", "yo",
		"good morning", "good afternoon", "good evening",
	}
	todayWords = keywords{
		"today", "todays", "tonight", "latest", "this morning", "this afternoon",
		"this evening", "so far today", "digest",
	}
	historicalWords = keywords{
		"yesterday", "previously", "earlier", "ago", "history", "historical",
		"past", "trend", "trends", "last week", "last month", "last year",
		"over time", "back in",
	}
	questionWords = keywords{
		"what", "who", "why", "how", "when", "where", "which",
		"can", "could", "should", "would", "is", "are", "do", "does", "did",
		"explain", "summarize", "compare",
	}
	webWords = keywords{
		"current", "currently", "breaking", "news", "price", "prices",
		"stock", "stocks", "weather", "live", "market", "happening now", "right now",
	}
)

type message struct {
	text   string
	tokens map[string]struct{}
	count  int
}

func parse(raw string) message {
	text := strings.ToLower(strings.TrimSpace(raw))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := make(map[string]struct{}, len(fields))
	count := 0
	for _, f := range fields {
		f = strings.ReplaceAll(f, "'", "")
		if f == "" {
			continue
		}
		tokens[f] = struct{}{}
		count++
	}
	return message{text: text, tokens: tokens, count: count}
}

type rule struct {
	match     func(message) bool
	queryType QueryType
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{isGreeting, Greeting},
	{todayWords.in, TodayQuestion},
	{historicalWords.in, HistoricalQuestion},
	{isQuestion, Question},
}

func isGreeting(m message) bool {
	return m.count > 0 && m.count <= 4 && !strings.Contains(m.text, "?") && greetingWords.in(m)
}

func isQuestion(m message) bool {
	if strings.Contains(m.text, "?") {
		return true
	}
	first := strings.Fields(m.text)
	if len(first) == 0 {
		return false
	}
	return questionWords.in(parse(first[0])) || strings.HasPrefix(m.text, "tell me")
}

// Classify maps a message to a query type, its active layers and whether
// web search is wanted. It is a pure function of the lower-cased text.
func Classify(msg string) Classification {
	m := parse(msg)
	qt := General
	for _, r := range rules {
		if r.match(m) {
			qt = r.queryType
			break
		}
	}
	layers := make([]Layer, len(layerSets[qt]))
	copy(layers, layerSets[qt])
	return Classification{
		QueryType:      qt,
		Layers:         layers,
		NeedsWebSearch: webWords.in(m),
	}
}
