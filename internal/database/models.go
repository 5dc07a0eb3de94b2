package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookups whose caller needs to distinguish a
// missing record from an empty result.
var ErrNotFound = errors.New("not found")

// Summary lifecycle of an item.
const (
	SummaryPending   = "pending"
	SummaryCompleted = "completed"
)

// Tag dimensions. Learned weights exist for company, industry and topic.
const (
	DimCompany    = "company"
	DimIndustry   = "industry"
	DimTechnology = "technology"
	DimPerson     = "person"
	DimTopic      = "topic"
)

// Tags is the set of tag values attached to an item or subscribed to by a user.
type Tags struct {
	Companies    []string `json:"companies,omitempty"`
	Industries   []string `json:"industries,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	People       []string `json:"people,omitempty"`
	Topics       []string `json:"topics,omitempty"`
}

// IsEmpty reports whether no dimension carries a value.
func (t Tags) IsEmpty() bool {
	return len(t.Companies) == 0 && len(t.Industries) == 0 && len(t.Technologies) == 0 &&
		len(t.People) == 0 && len(t.Topics) == 0
}

// Dimension returns the values for a dimension name.
func (t Tags) Dimension(dim string) []string {
	switch dim {
	case DimCompany:
		return t.Companies
	case DimIndustry:
		return t.Industries
	case DimTechnology:
		return t.Technologies
	case DimPerson:
		return t.People
	case DimTopic:
		return t.Topics
	}
	return nil
}

// Item is one piece of ingested content eligible for scoring and delivery.
type Item struct {
	ID              int64
	URL             string
	Title           string
	Source          *string
	SourceAuthority int
	Content         *string
	ContentFetched  bool
	Micro           *string
	Standard        *string
	Detailed        *string
	SummaryStatus   string
	Tagged          bool
	PublishedAt     *time.Time
	IngestedAt      time.Time
	Tags
	QualityScore *float64
	ImpactScore  *int
}

// Summary returns the best available summary text, falling back to content.
func (i *Item) Summary() string {
	for _, s := range []*string{i.Standard, i.Micro, i.Detailed, i.Content} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return ""
}

// NewItem carries the fields known when an item is first collected.
type NewItem struct {
	URL             string
	Title           string
	Source          string
	SourceAuthority int
	Content         string
	PublishedAt     *time.Time
	IngestedAt      time.Time // zero means now
}

// WeightTable maps tag value to learned weight in [0,1], per dimension.
type WeightTable struct {
	Companies  map[string]float64
	Industries map[string]float64
	Topics     map[string]float64
}

// IsEmpty reports whether the table holds no weights.
func (w WeightTable) IsEmpty() bool {
	return len(w.Companies) == 0 && len(w.Industries) == 0 && len(w.Topics) == 0
}

// User is a digest recipient with explicit subscriptions and learned weights.
type User struct {
	ID            string
	Email         string
	Name          string
	Subscriptions Tags
	Weights       WeightTable
	CreatedAt     time.Time
}

// DigestEntry is one selected item inside a persisted digest.
type DigestEntry struct {
	ItemID int64   `json:"item_id"`
	Title  string  `json:"title"`
	Total  float64 `json:"total"`
}

// DigestRecord is a persisted digest.
type DigestRecord struct {
	ID           int64
	UserID       string
	Date         string
	Personalized bool
	Entries      []DigestEntry
	GeneratedAt  time.Time
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnCitation is a source attached to an assistant turn.
type TurnCitation struct {
	ItemID    int64   `json:"item_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Relevance float64 `json:"relevance"`
}

// TurnMetadata is the optional metadata of a conversation turn.
type TurnMetadata struct {
	Citations  []TurnCitation `json:"citations,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	LayersUsed []string       `json:"layers_used,omitempty"`
	QueryType  string         `json:"query_type,omitempty"`
}

// Turn is one message of a conversation session.
type Turn struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	Metadata  *TurnMetadata
	CreatedAt time.Time
}

// VectorRecord holds an item embedding.
type VectorRecord struct {
	ItemID    int64
	Embedding []float64
	Model     string
	CreatedAt time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalItems     int
	CompletedItems int
	PendingItems   int
	TaggedItems    int
	EmbeddedItems  int
	Users          int
	Digests        int
	Turns          int
	Sessions       int
}
