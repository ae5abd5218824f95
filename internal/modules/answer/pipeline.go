package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/danutirta/tanyadata-backend/internal/cache"
	chatdomain "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/observability"
	"github.com/danutirta/tanyadata-backend/internal/platform/openai"
)

// Pipeline is the request-scoped entry point of the answer flow. One call to
// Answer runs: cache lookup, intent classification, retrieval, rerank, SQL
// planning, validation, execution and the streaming assembler — or replays a
// cached answer and skips everything after lookup.
type Pipeline struct {
	deps   Deps
	schema *SchemaProvider
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("answer pipeline: logger required")
	}
	if deps.AI == nil || deps.Emb == nil || deps.Vec == nil {
		return nil, fmt.Errorf("answer pipeline: model and vector deps required")
	}
	if deps.Chats == nil || deps.Messages == nil {
		return nil, fmt.Errorf("answer pipeline: chat store required")
	}
	return &Pipeline{
		deps:   deps,
		schema: NewSchemaProvider(),
	}, nil
}

// AnswerHandle identifies the persisted turn backing a stream.
type AnswerHandle struct {
	ChatID             uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Events             <-chan Event
}

// Answer validates and persists the inbound turn, then streams the answer.
// The returned channel is closed when the stream reaches a terminal state.
func (p *Pipeline) Answer(ctx context.Context, q Query) (AnswerHandle, error) {
	handle := AnswerHandle{}
	if p == nil {
		return handle, fmt.Errorf("answer pipeline: nil pipeline")
	}
	q.RawText = strings.TrimSpace(q.RawText)
	if q.RawText == "" {
		return handle, fmt.Errorf("answer pipeline: empty query text")
	}
	if strings.TrimSpace(q.UserID) == "" {
		return handle, fmt.Errorf("answer pipeline: missing user id")
	}
	// History is bounded no matter where it came from; keep the newest turns.
	if max := p.deps.Cfg.HistoryMaxTurns; max > 0 && len(q.History) > max {
		q.History = q.History[len(q.History)-max:]
	}

	chatID, err := p.ensureChat(ctx, &q)
	if err != nil {
		return handle, err
	}

	userMsg, assistantMsg, err := p.createTurn(ctx, chatID, q)
	if err != nil {
		return handle, err
	}

	events := make(chan Event, 32)
	handle = AnswerHandle{
		ChatID:             chatID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Events:             events,
	}

	go p.run(ctx, q, handle, events)
	return handle, nil
}

func (p *Pipeline) ensureChat(ctx context.Context, q *Query) (uuid.UUID, error) {
	if q.ChatID != uuid.Nil {
		if len(q.History) == 0 {
			q.History = p.loadHistory(ctx, q.ChatID)
		}
		return q.ChatID, nil
	}

	title := q.RawText
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80])
	}
	created, err := p.deps.Chats.Create(ctx, &chatdomain.Chat{UserID: q.UserID, Title: title})
	if err != nil {
		return uuid.Nil, fmt.Errorf("answer pipeline: create chat: %w", err)
	}
	q.ChatID = created.ID
	return created.ID, nil
}

func (p *Pipeline) loadHistory(ctx context.Context, chatID uuid.UUID) []HistoryTurn {
	maxTurns := p.deps.Cfg.HistoryMaxTurns
	rows, err := p.deps.Messages.ListRecent(ctx, chatID, maxTurns)
	if err != nil {
		p.deps.Log.Warn("history load failed", "error", err)
		return nil
	}
	// ListRecent is newest first; history reads oldest first.
	out := make([]HistoryTurn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		if m == nil || m.Status != chatdomain.StatusDone {
			continue
		}
		out = append(out, HistoryTurn{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *Pipeline) createTurn(ctx context.Context, chatID uuid.UUID, q Query) (*chatdomain.ChatMessage, *chatdomain.ChatMessage, error) {
	maxSeq, err := p.deps.Messages.GetMaxSeq(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("answer pipeline: max seq: %w", err)
	}

	userMsg := &chatdomain.ChatMessage{
		ChatID:  chatID,
		UserID:  q.UserID,
		Seq:     maxSeq + 1,
		Role:    chatdomain.RoleUser,
		Status:  chatdomain.StatusDone,
		Content: q.RawText,
	}
	assistantMsg := &chatdomain.ChatMessage{
		ChatID:   chatID,
		UserID:   q.UserID,
		Seq:      maxSeq + 2,
		Role:     chatdomain.RoleAssistant,
		Status:   chatdomain.StatusStreaming,
		Metadata: datatypes.JSON([]byte(`{}`)),
	}
	if _, err := p.deps.Messages.Create(ctx, []*chatdomain.ChatMessage{userMsg, assistantMsg}); err != nil {
		return nil, nil, fmt.Errorf("answer pipeline: persist turn: %w", err)
	}
	return userMsg, assistantMsg, nil
}

func (p *Pipeline) run(ctx context.Context, q Query, handle AnswerHandle, events chan Event) {
	defer close(events)

	deps := p.deps
	start := time.Now()
	steps := map[string]int64{}
	observe := func(stage string, since time.Time) {
		d := time.Since(since)
		steps[stage] = d.Milliseconds()
		if deps.Metrics != nil {
			deps.Metrics.ObserveStage(stage, d.Seconds())
		}
	}

	if deps.Metrics != nil {
		deps.Metrics.InflightAdd(1)
		defer deps.Metrics.InflightAdd(-1)
	}

	intent := ClassifyIntent(q.RawText, deps.Cfg.Intent)

	record := func(outcome string, tokens TokenUsage, cached bool, failed bool) {
		if deps.Metrics != nil {
			deps.Metrics.RecordQuery(string(intent.Intent), outcome)
		}
		if deps.Perf != nil {
			deps.Perf.Append(observability.PerformanceRecord{
				Timestamp:  start,
				Tokens:     tokens.PromptTokens + tokens.CompletionTokens,
				DurationMs: time.Since(start).Milliseconds(),
				Cached:     cached,
				Error:      failed,
				Steps:      steps,
			})
		}
	}

	// A panic in any stage must not take the process down: convert it into
	// the generic apology and leave an auditable error message behind.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		deps.Log.Error("answer pipeline panic",
			"chat_id", handle.ChatID,
			"message_id", handle.AssistantMessageID,
			"panic", r,
			"stack", string(debug.Stack()),
		)
		select {
		case events <- Event{
			Type:      EventError,
			ChatID:    handle.ChatID.String(),
			MessageID: handle.AssistantMessageID.String(),
			Message:   apologyMessage,
		}:
		default:
		}
		dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Messages.UpdateFields(dbCtx, handle.AssistantMessageID, map[string]interface{}{
			"content":    apologyMessage,
			"status":     chatdomain.StatusError,
			"error_text": fmt.Sprintf("panic: %v", r),
			"updated_at": time.Now().UTC(),
		}); err != nil {
			deps.Log.Error("terminal message update failed after panic", "error", err)
		}
		record("error", TokenUsage{}, false, true)
	}()

	// Cache lookup skips every later stage on a hit.
	cacheKey := cache.Key(q.RawText, q.UserID)
	if deps.Cache != nil {
		if payload, ok := deps.Cache.Get(cacheKey); ok {
			if deps.Metrics != nil {
				deps.Metrics.RecordCacheHit(true)
			}
			cached, _ := payload.(CachedAnswer)
			out, err := Respond(ctx, deps, RespondInput{
				ChatID:             handle.ChatID,
				UserID:             q.UserID,
				AssistantMessageID: handle.AssistantMessageID,
				Cached:             true,
				Metadata:           map[string]any{"sql": cached.SQL, "sources": cached.Sources, "intent": cached.Intent},
				Source:             NewTextSource(cached.Content, len(q.RawText)),
				Events:             events,
			})
			record(outcomeOf(out, err), out.Tokens, true, err != nil)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordCacheHit(false)
		}
	}

	deps.Log.Info("answering query",
		"chat_id", handle.ChatID,
		"user_id", q.UserID,
		"intent", intent.Intent,
		"confidence", intent.Confidence,
	)

	// Retrieval and schema fetch have no data dependency; fan out.
	var (
		chunks        []RetrievedChunk
		schemaContext string
	)
	stageStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = Retrieve(gctx, deps, q.RawText, 0)
		if err != nil {
			deps.Log.Warn("retrieval failed; continuing without context", "error", err)
			chunks = nil
		}
		return nil
	})
	g.Go(func() error {
		schemaContext = p.schema.Context(gctx, deps)
		return nil
	})
	_ = g.Wait()
	observe("retrieve", stageStart)

	stageStart = time.Now()
	reranked := Rerank(q.RawText, chunks, deps.Cfg.Rerank)
	if deps.Cfg.Rerank.UseModelReranker && !reranked.NoContext {
		reranked = p.rerankWithModel(ctx, q.RawText, reranked)
	}
	observe("rerank", stageStart)

	stageStart = time.Now()
	plan := Plan(ctx, deps, q, schemaContext, reranked.Context)
	observe("plan", stageStart)

	meta := map[string]any{"intent": intent.Intent, "sources": chunkIDs(reranked.Selected)}

	var (
		source   StreamSource
		degraded bool
		answered = plan.Status == PlanSuccess
	)
	switch {
	case plan.NeedsExecution:
		stageStart = time.Now()
		if err := ValidateSQL(plan.QueryText); err != nil {
			if deps.Metrics != nil {
				deps.Metrics.RecordSQLRejected()
			}
			deps.Log.Warn("planner produced invalid sql", "error", err)
			meta["validation_error"] = err.Error()
			source = NewTextSource(apologyMessage, len(q.RawText))
			answered = false
			break
		}
		meta["sql"] = plan.QueryText

		res := Execute(ctx, deps, plan.QueryText)
		observe("execute", stageStart)
		degraded = res.Degraded

		if !res.Success {
			meta["execution_error"] = res.ErrorMessage
			source = NewTextSource("Maaf, query atas pertanyaan itu gagal dijalankan. Coba ubah pertanyaannya.", len(q.RawText))
			answered = false
			break
		}
		if plan.ResponseTemplate != "" {
			source = NewTextSource(RenderTemplate(plan.ResponseTemplate, res), len(q.RawText))
			break
		}
		// No template: let the model phrase the result.
		user := buildSummarizeUserPrompt(q.RawText, res)
		source = func(ctx context.Context, onDelta func(string)) (string, openai.Usage, error) {
			genCtx, cancel := context.WithTimeout(ctx, deps.Cfg.Timeouts.Generate)
			defer cancel()
			return deps.AI.StreamText(genCtx, summarizeSystemPrompt, user, onDelta)
		}

	default:
		// Direct, out-of-context and fallback plans all carry a message.
		source = NewTextSource(plan.DirectMessage, len(q.RawText))
	}

	out, err := Respond(ctx, deps, RespondInput{
		ChatID:             handle.ChatID,
		UserID:             q.UserID,
		AssistantMessageID: handle.AssistantMessageID,
		Degraded:           degraded,
		Metadata:           meta,
		Source:             source,
		Events:             events,
	})

	if err == nil && !out.Cancelled && answered && !degraded && deps.Cache != nil {
		deps.Cache.Set(cacheKey, CachedAnswer{
			Content: out.Content,
			SQL:     plan.QueryText,
			Intent:  intent.Intent,
			Sources: chunkIDs(reranked.Selected),
			Tokens:  out.Tokens,
		})
	}

	record(outcomeOf(out, err), out.Tokens, false, err != nil)
}

// rerankWithModel is the optional feature-flagged pass: it may reorder the
// deterministic selection but never expands it, and any failure falls back to
// the deterministic result.
func (p *Pipeline) rerankWithModel(ctx context.Context, queryText string, in RerankResult) RerankResult {
	deps := p.deps
	if deps.AI == nil || len(in.Selected) < 2 {
		return in
	}

	var b strings.Builder
	b.WriteString("PERTANYAAN:\n" + queryText + "\n\nKANDIDAT:\n")
	for i, sc := range in.Selected {
		fmt.Fprintf(&b, "%d. %s\n", i, sc.Title)
	}
	b.WriteString("\nUrutkan indeks kandidat dari paling relevan.")

	obj, err := deps.AI.GenerateJSON(ctx, "Kamu mengurutkan potongan konteks berdasarkan relevansi.", b.String(),
		"rerank_order", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			},
			"required":             []string{"order"},
			"additionalProperties": false,
		})
	if err != nil {
		deps.Log.Warn("model rerank failed; keeping deterministic order", "error", err)
		return in
	}

	rawOrder, _ := obj["order"].([]any)
	seen := make(map[int]bool)
	reordered := make([]ScoredChunk, 0, len(in.Selected))
	for _, v := range rawOrder {
		f, ok := v.(float64)
		idx := int(f)
		if !ok || idx < 0 || idx >= len(in.Selected) || seen[idx] {
			continue
		}
		seen[idx] = true
		reordered = append(reordered, in.Selected[idx])
	}
	if len(reordered) != len(in.Selected) {
		return in
	}
	in.Selected = reordered
	return in
}

func chunkIDs(chunks []ScoredChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.ID)
	}
	return out
}

func outcomeOf(out RespondOutput, err error) string {
	switch {
	case err != nil:
		return "errored"
	case out.Cancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// MessagesJSON renders chat messages for the REST surface.
func MessagesJSON(rows []*chatdomain.ChatMessage) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, m := range rows {
		if m == nil {
			continue
		}
		var meta map[string]any
		if len(m.Metadata) > 0 {
			_ = json.Unmarshal(m.Metadata, &meta)
		}
		out = append(out, map[string]any{
			"id":         m.ID,
			"chat_id":    m.ChatID,
			"seq":        m.Seq,
			"role":       m.Role,
			"status":     m.Status,
			"content":    m.Content,
			"metadata":   meta,
			"created_at": m.CreatedAt,
		})
	}
	return out
}
