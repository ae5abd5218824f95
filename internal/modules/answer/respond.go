package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	chatdomain "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/platform/openai"
	"github.com/danutirta/tanyadata-backend/internal/sse"
)

// StreamSource produces the answer text fragment by fragment. It returns the
// full text and token usage. Implementations must honor ctx cancellation.
type StreamSource func(ctx context.Context, onDelta func(delta string)) (string, openai.Usage, error)

// cancellationMarker is appended to partial content when the caller
// disconnects mid-stream.
const cancellationMarker = "\n\n[jawaban terpotong: koneksi terputus]"

const (
	flushDBInterval     = 750 * time.Millisecond
	flushDBBytes        = 256
	flushNotifyInterval = 150 * time.Millisecond
	flushNotifyBytes    = 512
)

type RespondInput struct {
	ChatID             uuid.UUID
	UserID             string
	AssistantMessageID uuid.UUID

	Cached   bool
	Degraded bool
	Metadata map[string]any

	Source StreamSource
	Events chan<- Event
}

type RespondOutput struct {
	Content   string
	Tokens    TokenUsage
	Cancelled bool
}

// Respond drives the streaming state machine: Started, zero or more Chunks,
// then exactly one of Completed / Errored / Cancelled. Whatever was
// aggregated before a failure or disconnect is persisted, never dropped, and
// the assistant message receives exactly one terminal update.
func Respond(ctx context.Context, deps Deps, in RespondInput) (RespondOutput, error) {
	out := RespondOutput{}
	if deps.Messages == nil || in.Source == nil || in.Events == nil {
		return out, fmt.Errorf("respond: missing deps")
	}
	if in.AssistantMessageID == uuid.Nil {
		return out, fmt.Errorf("respond: missing assistant message id")
	}

	emit := func(ev Event) {
		ev.ChatID = in.ChatID.String()
		ev.MessageID = in.AssistantMessageID.String()
		select {
		case in.Events <- ev:
			if deps.Metrics != nil {
				deps.Metrics.RecordStreamEvent(string(ev.Type))
			}
		case <-ctx.Done():
		}
	}

	notify := func(event sse.SSEEvent, data map[string]any) {
		if deps.Bus == nil {
			return
		}
		if data == nil {
			data = map[string]any{}
		}
		data["message_id"] = in.AssistantMessageID.String()
		// Publish with a detached short deadline so a cancelled request can
		// still announce its terminal state.
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := deps.Bus.Publish(pubCtx, sse.SSEMessage{
			Channel: sse.ChatChannel(in.ChatID),
			Event:   event,
			Data:    data,
		}); err != nil && deps.Log != nil {
			deps.Log.Warn("event bus publish failed", "event", event, "error", err)
		}
	}

	emit(Event{Type: EventStart, Cached: in.Cached})
	notify(sse.SSEEventAnswerCreated, map[string]any{"cached": in.Cached})

	var (
		agg           strings.Builder
		lastDBFlush   = time.Now()
		lastDBLen     int
		lastNotify    = time.Now()
		lastNotifyLen int
		finalized     bool
	)

	flushDB := func(force bool) {
		if !force && (time.Since(lastDBFlush) < flushDBInterval || agg.Len()-lastDBLen < flushDBBytes) {
			return
		}
		lastDBFlush = time.Now()
		lastDBLen = agg.Len()
		// Partial progress write; terminal state lands via finalize.
		dbCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := deps.Messages.UpdateFields(dbCtx, in.AssistantMessageID, map[string]interface{}{
			"content":    agg.String(),
			"updated_at": time.Now().UTC(),
		}); err != nil && deps.Log != nil {
			deps.Log.Warn("partial message flush failed", "error", err)
		}
	}

	flushNotify := func() {
		if time.Since(lastNotify) < flushNotifyInterval || agg.Len()-lastNotifyLen < flushNotifyBytes {
			return
		}
		lastNotify = time.Now()
		lastNotifyLen = agg.Len()
		notify(sse.SSEEventAnswerDelta, map[string]any{"content": agg.String()})
	}

	onDelta := func(delta string) {
		if delta == "" {
			return
		}
		agg.WriteString(delta)
		emit(Event{Type: EventChunk, Content: delta})
		flushDB(false)
		flushNotify()
	}

	// finalize applies the single terminal update for the assistant message.
	finalize := func(status string, errText string, tokens TokenUsage) {
		if finalized {
			return
		}
		finalized = true

		meta := map[string]any{
			"tokens":   tokens,
			"cached":   in.Cached,
			"degraded": in.Degraded,
		}
		for k, v := range in.Metadata {
			meta[k] = v
		}
		rawMeta, _ := json.Marshal(meta)

		dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		updates := map[string]interface{}{
			"content":    agg.String(),
			"status":     status,
			"metadata":   datatypes.JSON(rawMeta),
			"updated_at": time.Now().UTC(),
		}
		if errText != "" {
			updates["error_text"] = errText
		}
		if err := deps.Messages.UpdateFields(dbCtx, in.AssistantMessageID, updates); err != nil && deps.Log != nil {
			deps.Log.Error("terminal message update failed", "status", status, "error", err)
		}
		if deps.Chats != nil && in.ChatID != uuid.Nil {
			if err := deps.Chats.TouchLastMessage(dbCtx, in.ChatID, time.Now().UTC()); err != nil && deps.Log != nil {
				deps.Log.Warn("chat touch failed", "error", err)
			}
		}
	}

	text, usage, err := in.Source(ctx, onDelta)
	tokens := TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Estimated:        usage.Estimated,
	}
	if deps.Metrics != nil {
		deps.Metrics.AddTokens("prompt", tokens.PromptTokens, tokens.Estimated)
		deps.Metrics.AddTokens("completion", tokens.CompletionTokens, tokens.Estimated)
	}

	if ctx.Err() != nil {
		// Caller disconnected. No point emitting further events; persist the
		// partial answer with a cancellation marker.
		agg.WriteString(cancellationMarker)
		finalize(chatdomain.StatusCancelled, "client disconnected", tokens)
		notify(sse.SSEEventAnswerCancelled, map[string]any{"content": agg.String()})
		out.Content = agg.String()
		out.Tokens = tokens
		out.Cancelled = true
		return out, nil
	}

	if err != nil {
		emit(Event{Type: EventError, Message: apologyMessage})
		finalize(chatdomain.StatusError, err.Error(), tokens)
		notify(sse.SSEEventAnswerError, map[string]any{"content": agg.String()})
		out.Content = agg.String()
		out.Tokens = tokens
		return out, fmt.Errorf("respond: stream source: %w", err)
	}

	// Sources may return trailing text never passed through onDelta.
	if text != "" && text != agg.String() && agg.Len() == 0 {
		onDelta(text)
	}

	emit(Event{Type: EventComplete, Tokens: &tokens, Cached: in.Cached, Degraded: in.Degraded})
	finalize(chatdomain.StatusDone, "", tokens)
	notify(sse.SSEEventAnswerDone, map[string]any{"content": agg.String()})

	out.Content = agg.String()
	out.Tokens = tokens
	return out, nil
}

// NewTextSource streams pre-rendered text in fixed-size fragments with local
// token estimation. Cancellation is observed between fragments.
func NewTextSource(text string, promptLen int) StreamSource {
	return func(ctx context.Context, onDelta func(string)) (string, openai.Usage, error) {
		const fragment = 24
		runes := []rune(text)
		for i := 0; i < len(runes); i += fragment {
			if ctx.Err() != nil {
				return string(runes[:i]), estimateUsage(promptLen, string(runes[:i])), ctx.Err()
			}
			end := i + fragment
			if end > len(runes) {
				end = len(runes)
			}
			onDelta(string(runes[i:end]))
		}
		return text, estimateUsage(promptLen, text), nil
	}
}

func estimateUsage(promptLen int, completion string) openai.Usage {
	return openai.Usage{
		PromptTokens:     (promptLen + 3) / 4,
		CompletionTokens: openai.EstimateTokens(completion),
		Estimated:        true,
	}
}
