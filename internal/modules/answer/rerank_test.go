package answer

import (
	"reflect"
	"strings"
	"testing"

	"github.com/danutirta/tanyadata-backend/internal/config"
)

func TestExtractKeywords(t *testing.T) {
	cfg := config.Default().Rerank

	got := ExtractKeywords("Berapa total tiket yang closed di bulan 12 untuk pelanggan VIP?", cfg)
	want := []string{"berapa", "total", "tiket", "closed", "bulan", "pelanggan", "vip"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keywords: want=%v got=%v", want, got)
	}
}

func TestExtractKeywordsCapsAndDedupes(t *testing.T) {
	cfg := config.Default().Rerank
	cfg.MaxKeywords = 3

	got := ExtractKeywords("tiket tiket eskalasi gangguan komplain laporan", cfg)
	if len(got) != 3 {
		t.Fatalf("cap: want=3 got=%d (%v)", len(got), got)
	}
	if got[0] != "tiket" || got[1] != "eskalasi" {
		t.Fatalf("order/dedupe: got=%v", got)
	}
}

func sampleChunks() []RetrievedChunk {
	return []RetrievedChunk{
		{
			ID:         "schema-tickets",
			Title:      "Tabel tickets",
			Content:    "Tabel tickets menyimpan tiket dengan kolom status (open, closed), created_at, closed_at.",
			Similarity: 0.6,
			Collection: "schema_docs",
		},
		{
			ID:         "faq-holiday",
			Title:      "Jadwal libur kantor",
			Content:    "Informasi cuti bersama dan jadwal libur nasional.",
			Similarity: 0.55,
			Collection: "faq",
		},
		{
			ID:         "kb-sla",
			Title:      "SLA penanganan tiket",
			Content:    "Tiket prioritas tinggi harus closed dalam 4 jam.",
			Similarity: 0.5,
			Collection: "tickets_knowledge",
		},
	}
}

func TestRerankOrdersByFinalScore(t *testing.T) {
	cfg := config.Default().Rerank

	res := Rerank("berapa total tiket yang closed bulan ini?", sampleChunks(), cfg)
	if res.NoContext {
		t.Fatal("unexpected NoContext")
	}
	if len(res.Selected) == 0 {
		t.Fatal("no chunks selected")
	}
	// The schema chunk matches keywords, table signal, status and time
	// signals; the holiday FAQ matches nothing despite similar base score.
	if res.Selected[0].ID != "schema-tickets" {
		t.Fatalf("top chunk: want=schema-tickets got=%s", res.Selected[0].ID)
	}
	for _, sc := range res.Selected {
		if sc.ID == "faq-holiday" && sc.FinalScore >= res.Selected[0].FinalScore {
			t.Fatal("irrelevant chunk outranked relevant one")
		}
	}
	if !strings.Contains(res.Context, "Tabel tickets") {
		t.Fatalf("context missing top chunk: %q", res.Context)
	}
}

func TestRerankIsDeterministic(t *testing.T) {
	cfg := config.Default().Rerank
	query := "berapa tiket closed bulan ini?"

	first := Rerank(query, sampleChunks(), cfg)
	for i := 0; i < 5; i++ {
		again := Rerank(query, sampleChunks(), cfg)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("rerank not deterministic:\nfirst=%+v\nagain=%+v", first, again)
		}
	}
}

func TestRerankNoContextSentinel(t *testing.T) {
	cfg := config.Default().Rerank
	cfg.MinScore = 0.99

	res := Rerank("berapa tiket closed?", sampleChunks(), cfg)
	if !res.NoContext {
		t.Fatal("want NoContext when nothing passes threshold")
	}
	if res.Context != NoContextSentinel {
		t.Fatalf("context: want sentinel got %q", res.Context)
	}
	if len(res.Selected) != 0 {
		t.Fatalf("selected must be empty, got %d", len(res.Selected))
	}
}

func TestRerankEmptyInput(t *testing.T) {
	res := Rerank("berapa tiket?", nil, config.Default().Rerank)
	if !res.NoContext {
		t.Fatal("want NoContext for empty input")
	}
}

func TestRerankRespectsTopK(t *testing.T) {
	cfg := config.Default().Rerank
	cfg.TopK = 1
	cfg.MinScore = 0

	res := Rerank("tiket closed", sampleChunks(), cfg)
	if len(res.Selected) != 1 {
		t.Fatalf("topK: want=1 got=%d", len(res.Selected))
	}
}

func TestIntentBoostIsCapped(t *testing.T) {
	chunk := RetrievedChunk{
		Title:   "tickets agents customers status",
		Content: "tickets agents pelanggan status closed tanggal count total",
	}
	got := intentBoost("berapa total tiket closed bulan ini untuk agen dan pelanggan?", chunk, 0.35)
	if got != 0.35 {
		t.Fatalf("boost cap: want=0.35 got=%v", got)
	}
}

func TestKeywordMatchScoreBounds(t *testing.T) {
	keywords := []string{"tiket", "closed"}
	if got := keywordMatchScore("", keywords, 0.05); got != 0 {
		t.Fatalf("empty text: want=0 got=%v", got)
	}
	full := keywordMatchScore(strings.Repeat("tiket closed ", 10), keywords, 0.05)
	if full <= 0 || full > 1 {
		t.Fatalf("score out of range: %v", full)
	}
	partial := keywordMatchScore("tiket", keywords, 0.05)
	if partial >= full {
		t.Fatalf("partial match should score below full match: partial=%v full=%v", partial, full)
	}
}
