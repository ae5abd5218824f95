package answer

import (
	"context"

	"github.com/google/uuid"

	"github.com/danutirta/tanyadata-backend/internal/cache"
	"github.com/danutirta/tanyadata-backend/internal/config"
	"github.com/danutirta/tanyadata-backend/internal/db"
	repos "github.com/danutirta/tanyadata-backend/internal/data/repos/chat"
	"github.com/danutirta/tanyadata-backend/internal/observability"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
	"github.com/danutirta/tanyadata-backend/internal/platform/openai"
	"github.com/danutirta/tanyadata-backend/internal/platform/qdrant"
	redisbus "github.com/danutirta/tanyadata-backend/internal/clients/redis"
)

// Query is the immutable inbound request.
type Query struct {
	RawText  string
	UserID   string
	ChatID   uuid.UUID
	History  []HistoryTurn
	ImageURL string
}

type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intent of a query. Classification is observational: the pipeline runs the
// same stages either way, the label feeds metrics and the planner prompt.
type Intent string

const (
	IntentGeneralConversation Intent = "general_conversation"
	IntentDataQuery           Intent = "data_query"
)

type IntentResult struct {
	Intent     Intent
	Confidence float64
}

// RetrievedChunk is one vector search hit, merged across collections.
type RetrievedChunk struct {
	ID         string
	Title      string
	Content    string
	Similarity float64
	Collection string
}

// ScoredChunk carries the reranker's component scores alongside the chunk.
type ScoredChunk struct {
	RetrievedChunk

	BaseScore           float64
	TitleKeywordScore   float64
	ContentKeywordScore float64
	IntentBoost         float64
	FinalScore          float64
}

// RerankResult is the reranker output. NoContext reports that nothing passed
// the score threshold; it is a valid outcome, not an error.
type RerankResult struct {
	Selected  []ScoredChunk
	Context   string
	NoContext bool
}

type PlanStatus string

const (
	PlanSuccess      PlanStatus = "success"
	PlanOutOfContext PlanStatus = "out_of_context"
	PlanError        PlanStatus = "error"
)

// SQLPlan is the planner's tagged result. When Status is PlanSuccess exactly
// one variant is populated: QueryText (+ optional ResponseTemplate) for a
// data answer, or DirectMessage for a conversational one.
type SQLPlan struct {
	Status         PlanStatus
	NeedsExecution bool

	QueryText        string
	ResponseTemplate string
	DirectMessage    string
}

// ExecutionResult reports SQL execution. Degraded marks demo/fallback rows
// returned when the operational database is unreachable.
type ExecutionResult struct {
	Success      bool
	Rows         []map[string]any
	RowCount     int
	ErrorMessage string
	Degraded     bool
}

// TokenUsage mirrors model usage; Estimated is set when counts were derived
// from text length instead of provider metadata.
type TokenUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	Estimated        bool `json:"estimated"`
}

// CachedAnswer is the cache payload stored after a successful pipeline run.
type CachedAnswer struct {
	Content string     `json:"content"`
	SQL     string     `json:"sql,omitempty"`
	Intent  Intent     `json:"intent"`
	Sources []string   `json:"sources,omitempty"`
	Tokens  TokenUsage `json:"tokens"`
}

// ---- Wire events ----

type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one frame of the answer stream. Every frame is independently
// well-formed so a consumer can resume rendering after any prefix.
type Event struct {
	Type EventType `json:"type"`

	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`

	Cached   bool        `json:"cached,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
	Tokens   *TokenUsage `json:"tokens,omitempty"`
}

// ---- Collaborator contracts ----

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Generator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, openai.Usage, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]qdrant.Point, error)
}

type SQLRunner interface {
	Query(ctx context.Context, sql string) ([]map[string]any, error)
}

type SchemaSource interface {
	DescribeTable(ctx context.Context, table string) (db.TableSchema, error)
	SampleRows(ctx context.Context, table string, limit int) ([]map[string]any, error)
}

// Deps bundles everything a pipeline run needs. Bus and Metrics are optional;
// nil disables them.
type Deps struct {
	Log *logger.Logger
	Cfg config.Pipeline

	AI  Generator
	Emb Embedder
	Vec VectorSearcher

	SQL    SQLRunner
	Schema SchemaSource

	Chats    repos.ChatRepo
	Messages repos.ChatMessageRepo

	Cache   *cache.QueryCache
	Metrics *observability.Metrics
	Perf    *observability.PerformanceLog
	Bus     redisbus.EventBus
}
