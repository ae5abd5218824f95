package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_MAX_RETRIES", "0")

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEmbedOrdersByIndex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("inputs: want=2 got=%d", len(req.Input))
		}
		// Return out of order; client must reassemble by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0.3, 0.4}},
				{"index": 0, "embedding": []float64{0.1, 0.2}},
			},
		})
	})

	c := newTestClient(t, mux)
	vecs, err := c.Embed(context.Background(), []string{"tiket closed", "SLA"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors: want=2 got=%d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Fatalf("index order: got %v / %v", vecs[0], vecs[1])
	}
}

func TestEmbedMissingIndexFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1}},
			},
		})
	})
	c := newTestClient(t, mux)
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("want error for missing embedding index")
	}
}

func TestGenerateJSONParsesOutput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/responses", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		format := body["text"].(map[string]any)["format"].(map[string]any)
		if format["type"] != "json_schema" {
			t.Errorf("format type: want=json_schema got=%v", format["type"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{
					"type": "message",
					"role": "assistant",
					"content": []map[string]any{
						{"type": "output_text", "text": `{"mode":"sql","sql":"SELECT count(*) FROM tickets"}`},
					},
				},
			},
		})
	})

	c := newTestClient(t, mux)
	obj, err := c.GenerateJSON(context.Background(), "sys", "user", "sql_plan", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got := obj["mode"]; got != "sql" {
		t.Fatalf("mode: want=sql got=%v", got)
	}
}

func TestStreamTextCollectsDeltasAndUsage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/responses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"response.output_text.delta","delta":"Total tiket "}`,
			`{"type":"response.output_text.delta","delta":"closed: 42"}`,
			`{"type":"response.completed","response":{"usage":{"input_tokens":120,"output_tokens":8}}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	})

	c := newTestClient(t, mux)
	var deltas []string
	text, usage, err := c.StreamText(context.Background(), "sys", "user", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if text != "Total tiket closed: 42" {
		t.Fatalf("text: got=%q", text)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas: want=2 got=%d", len(deltas))
	}
	if usage.Estimated {
		t.Fatal("usage should be reported, not estimated")
	}
	if usage.PromptTokens != 120 || usage.CompletionTokens != 8 {
		t.Fatalf("usage: got=%+v", usage)
	}
}

func TestStreamTextEstimatesUsageWhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/responses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"response.output_text.delta","delta":"abcdefgh"}`)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	c := newTestClient(t, mux)
	text, usage, err := c.StreamText(context.Background(), "", "user", nil)
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if text != "abcdefgh" {
		t.Fatalf("text: got=%q", text)
	}
	if !usage.Estimated {
		t.Fatal("usage should be estimated")
	}
	if usage.CompletionTokens != 2 {
		t.Fatalf("completion tokens: want=2 got=%d", usage.CompletionTokens)
	}
}

func TestStreamTextSurfacesStreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/responses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"response.error","error":{"message":"overloaded"}}`)
	})

	c := newTestClient(t, mux)
	_, _, err := c.StreamText(context.Background(), "sys", "user", nil)
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("want stream error containing 'overloaded', got %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Fatalf("EstimateTokens(%q): want=%d got=%d", tc.in, tc.want, got)
		}
	}
}
