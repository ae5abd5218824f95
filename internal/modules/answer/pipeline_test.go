package answer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/danutirta/tanyadata-backend/internal/cache"
	"github.com/danutirta/tanyadata-backend/internal/config"
	chatdomain "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/observability"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
	"github.com/danutirta/tanyadata-backend/internal/platform/qdrant"
)

type fakeChats struct {
	created []*chatdomain.Chat
}

func (f *fakeChats) Create(ctx context.Context, row *chatdomain.Chat) (*chatdomain.Chat, error) {
	row.ID = uuid.New()
	f.created = append(f.created, row)
	return row, nil
}

func (f *fakeChats) GetByID(ctx context.Context, id uuid.UUID) (*chatdomain.Chat, error) {
	for _, c := range f.created {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, context.Canceled
}

func (f *fakeChats) ListByUser(ctx context.Context, userID string, limit int) ([]*chatdomain.Chat, error) {
	return f.created, nil
}

func (f *fakeChats) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	gen      *fakeGenerator
	runner   *fakeRunner
	messages *fakeMessages
	cache    *cache.QueryCache
	metrics  *observability.Metrics
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	gen := &fakeGenerator{jsonObj: map[string]any{
		"status":        "success",
		"response_type": "data",
		"query":         "SELECT count(*) AS total FROM tickets WHERE status = 'closed'",
		"message":       nil,
		"text_template": "Total tiket closed: [[total]]",
	}}
	runner := &fakeRunner{rows: []map[string]any{{"total": int64(42)}}}
	messages := &fakeMessages{}
	qc := cache.New(log, 10, time.Minute)

	deps := Deps{
		Log: log,
		Cfg: config.Default(),
		AI:  gen,
		Emb: &fakeEmbedder{vec: []float32{0.1, 0.2}},
		Vec: &fakeSearcher{byCollection: map[string][]qdrant.Point{
			"tickets_knowledge": {{ID: "kb-1", Score: 0.8, Payload: map[string]any{
				"title":   "Tabel tickets",
				"content": "Tabel tickets menyimpan tiket dengan status open dan closed.",
			}}},
		}},
		SQL:      runner,
		Schema:   &fakeSchemaSource{},
		Chats:    &fakeChats{},
		Messages: messages,
		Cache:    qc,
		Metrics:  observability.NewMetrics(),
		Perf:     observability.NewPerformanceLog(100),
	}
	p, err := NewPipeline(deps)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return &pipelineFixture{
		pipeline: p,
		gen:      gen,
		runner:   runner,
		messages: messages,
		cache:    qc,
		metrics:  deps.Metrics,
	}
}

func collect(t *testing.T, handle AnswerHandle) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t)

	handle, err := fx.pipeline.Answer(context.Background(), Query{
		RawText: "berapa total tiket yang closed bulan ini?",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	events := collect(t, handle)
	if len(events) < 2 {
		t.Fatalf("too few events: %d", len(events))
	}
	if events[0].Type != EventStart {
		t.Fatalf("first event: %s", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event: %s (%+v)", last.Type, last)
	}

	var content string
	for _, ev := range events {
		if ev.Type == EventChunk {
			content += ev.Content
		}
	}
	if content != "Total tiket closed: 42" {
		t.Fatalf("streamed content: got=%q", content)
	}

	terminals := fx.messages.terminalUpdates()
	if len(terminals) != 1 {
		t.Fatalf("terminal updates: want=1 got=%d", len(terminals))
	}
	if terminals[0]["content"] != "Total tiket closed: 42" {
		t.Fatalf("persisted content: got=%v", terminals[0]["content"])
	}
	if terminals[0]["status"] != chatdomain.StatusDone {
		t.Fatalf("status: got=%v", terminals[0]["status"])
	}

	// User turn plus assistant placeholder were persisted up front.
	if len(fx.messages.created) != 2 {
		t.Fatalf("created messages: want=2 got=%d", len(fx.messages.created))
	}
	if fx.messages.created[0].Role != chatdomain.RoleUser || fx.messages.created[1].Role != chatdomain.RoleAssistant {
		t.Fatalf("turn roles: %s/%s", fx.messages.created[0].Role, fx.messages.created[1].Role)
	}
	if fx.runner.lastSQL == "" {
		t.Fatal("executor never ran")
	}
}

func TestPipelineCacheHitSkipsPlanner(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()

	first, err := fx.pipeline.Answer(ctx, Query{RawText: "berapa total tiket yang closed bulan ini?", UserID: "user-1"})
	if err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	collect(t, first)

	plannerCalls := fx.runner.calls

	// Same query differing only in case and whitespace must hit the cache.
	second, err := fx.pipeline.Answer(ctx, Query{RawText: "  BERAPA total tiket   yang closed bulan ini?", UserID: "user-1"})
	if err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	events := collect(t, second)

	if fx.runner.calls != plannerCalls {
		t.Fatal("cache hit must skip SQL execution")
	}
	last := events[len(events)-1]
	if last.Type != EventComplete || !last.Cached {
		t.Fatalf("want cached completion, got %+v", last)
	}

	var content string
	for _, ev := range events {
		if ev.Type == EventChunk {
			content += ev.Content
		}
	}
	if content != "Total tiket closed: 42" {
		t.Fatalf("replayed content: got=%q", content)
	}

	stats := fx.cache.Stats()
	if stats.Hits != 1 {
		t.Fatalf("cache hits: want=1 got=%d", stats.Hits)
	}
}

func TestPipelineDifferentUserMissesCache(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()

	h1, err := fx.pipeline.Answer(ctx, Query{RawText: "berapa tiket closed?", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	collect(t, h1)

	h2, err := fx.pipeline.Answer(ctx, Query{RawText: "berapa tiket closed?", UserID: "user-2"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	collect(t, h2)

	if fx.cache.Stats().Hits != 0 {
		t.Fatal("different user must not share cache entries")
	}
}

func TestPipelineInvalidPlanSQLIsNeverExecuted(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.gen.jsonObj = map[string]any{
		"status":        "success",
		"response_type": "data",
		"query":         "DELETE FROM tickets",
		"message":       nil,
		"text_template": nil,
	}

	handle, err := fx.pipeline.Answer(context.Background(), Query{RawText: "hapus semua tiket", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	events := collect(t, handle)

	if fx.runner.calls != 0 {
		t.Fatal("invalid SQL reached the executor")
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("invalid plan should still complete with an apology, got %s", last.Type)
	}

	var content string
	for _, ev := range events {
		if ev.Type == EventChunk {
			content += ev.Content
		}
	}
	if content != apologyMessage {
		t.Fatalf("apology content: got=%q", content)
	}
	if fx.cache.Len() != 0 {
		t.Fatal("rejected plans must not be cached")
	}
}

func TestPipelineDegradedResultIsNotCached(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.runner.err = fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")

	handle, err := fx.pipeline.Answer(context.Background(), Query{RawText: "berapa tiket closed?", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	events := collect(t, handle)

	last := events[len(events)-1]
	if last.Type != EventComplete || !last.Degraded {
		t.Fatalf("want degraded completion, got %+v", last)
	}
	if fx.cache.Len() != 0 {
		t.Fatal("degraded answers must not be cached")
	}
}

type panickingRunner struct{}

func (panickingRunner) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	panic("row scan into nil map")
}

func TestPipelinePanicBecomesErrorEvent(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.pipeline.deps.SQL = panickingRunner{}

	handle, err := fx.pipeline.Answer(context.Background(), Query{RawText: "berapa tiket closed?", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	events := collect(t, handle)

	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Type != EventError || last.Message != apologyMessage {
		t.Fatalf("want error event with apology, got %+v", last)
	}

	terminals := fx.messages.terminalUpdates()
	if len(terminals) != 1 {
		t.Fatalf("terminal updates: want=1 got=%d", len(terminals))
	}
	if terminals[0]["status"] != chatdomain.StatusError {
		t.Fatalf("status: got=%v", terminals[0]["status"])
	}
	errText, _ := terminals[0]["error_text"].(string)
	if !strings.Contains(errText, "panic") {
		t.Fatalf("error_text: got=%q", errText)
	}
	if fx.cache.Len() != 0 {
		t.Fatal("failed answers must not be cached")
	}
}

func TestPipelineCapsCallerSuppliedHistory(t *testing.T) {
	fx := newPipelineFixture(t)

	history := make([]HistoryTurn, 10)
	for i := range history {
		history[i] = HistoryTurn{Role: chatdomain.RoleUser, Content: fmt.Sprintf("pertanyaan nomor %d", i)}
	}
	handle, err := fx.pipeline.Answer(context.Background(), Query{
		RawText: "berapa tiket closed?",
		UserID:  "user-1",
		History: history,
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	collect(t, handle)

	// Default cap is 6; indices 0-3 must be gone, 4-9 must remain.
	if strings.Contains(fx.gen.lastUser, "pertanyaan nomor 3") {
		t.Fatalf("oldest turns leaked into planner prompt:\n%s", fx.gen.lastUser)
	}
	if !strings.Contains(fx.gen.lastUser, "pertanyaan nomor 4") || !strings.Contains(fx.gen.lastUser, "pertanyaan nomor 9") {
		t.Fatalf("newest turns missing from planner prompt:\n%s", fx.gen.lastUser)
	}
}

func TestPipelineChatTitleTruncatesOnRunes(t *testing.T) {
	fx := newPipelineFixture(t)
	chats := &fakeChats{}
	fx.pipeline.deps.Chats = chats

	raw := strings.Repeat("a", 79) + "é" + strings.Repeat("b", 30)
	handle, err := fx.pipeline.Answer(context.Background(), Query{RawText: raw, UserID: "user-1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	collect(t, handle)

	if len(chats.created) != 1 {
		t.Fatalf("created chats: want=1 got=%d", len(chats.created))
	}
	title := chats.created[0].Title
	if !utf8.ValidString(title) {
		t.Fatalf("title is not valid UTF-8: %q", title)
	}
	if got := utf8.RuneCountInString(title); got != 80 {
		t.Fatalf("title runes: want=80 got=%d", got)
	}
	if !strings.HasSuffix(title, "é") {
		t.Fatalf("title must keep the whole final rune, got %q", title)
	}
}

func TestPipelineRejectsEmptyQuery(t *testing.T) {
	fx := newPipelineFixture(t)
	if _, err := fx.pipeline.Answer(context.Background(), Query{RawText: "   ", UserID: "u"}); err == nil {
		t.Fatal("want error for empty query")
	}
	if _, err := fx.pipeline.Answer(context.Background(), Query{RawText: "berapa tiket?", UserID: ""}); err == nil {
		t.Fatal("want error for missing user")
	}
}
