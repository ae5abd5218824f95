package answer

import (
	"context"
	"fmt"
	"testing"

	"github.com/danutirta/tanyadata-backend/internal/config"
	"github.com/danutirta/tanyadata-backend/internal/platform/qdrant"
)

type fakeEmbedder struct {
	vec []float32
	err error

	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

type fakeSearcher struct {
	byCollection map[string][]qdrant.Point
	failing      map[string]bool
}

func (f *fakeSearcher) Search(ctx context.Context, collection string, vector []float32, limit int) ([]qdrant.Point, error) {
	if f.failing[collection] {
		return nil, fmt.Errorf("collection %s unavailable", collection)
	}
	return f.byCollection[collection], nil
}

func retrieveDeps(emb *fakeEmbedder, vec *fakeSearcher) Deps {
	cfg := config.Default()
	cfg.Collections = []string{"tickets_knowledge", "faq"}
	cfg.RetrieveLimit = 2
	return Deps{Cfg: cfg, Emb: emb, Vec: vec}
}

func TestRetrieveMergesAndSorts(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	vec := &fakeSearcher{byCollection: map[string][]qdrant.Point{
		"tickets_knowledge": {
			{ID: "t1", Score: 0.7, Payload: map[string]any{"title": "SLA", "content": "aturan SLA tiket"}},
			{ID: "t2", Score: 0.4, Payload: map[string]any{"title": "eskalasi", "content": "alur eskalasi"}},
		},
		"faq": {
			{ID: "f1", Score: 0.9, Payload: map[string]any{"title": "status tiket", "content": "arti status"}},
		},
	}}

	chunks, err := Retrieve(context.Background(), retrieveDeps(emb, vec), "berapa tiket closed?", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks: want=3 got=%d", len(chunks))
	}
	if chunks[0].ID != "f1" || chunks[1].ID != "t1" || chunks[2].ID != "t2" {
		t.Fatalf("order: got %s,%s,%s", chunks[0].ID, chunks[1].ID, chunks[2].ID)
	}
	if chunks[0].Collection != "faq" {
		t.Fatalf("collection tag: got=%s", chunks[0].Collection)
	}
	if emb.calls != 1 {
		t.Fatalf("embedding must be computed once, got %d calls", emb.calls)
	}
}

func TestRetrieveToleratesCollectionFailure(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	vec := &fakeSearcher{
		byCollection: map[string][]qdrant.Point{
			"faq": {{ID: "f1", Score: 0.8, Payload: map[string]any{"title": "faq"}}},
		},
		failing: map[string]bool{"tickets_knowledge": true},
	}

	chunks, err := Retrieve(context.Background(), retrieveDeps(emb, vec), "status tiket", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "f1" {
		t.Fatalf("partial result: got %+v", chunks)
	}
}

func TestRetrieveEmptyOverallResultIsNotError(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	vec := &fakeSearcher{failing: map[string]bool{"tickets_knowledge": true, "faq": true}}

	chunks, err := Retrieve(context.Background(), retrieveDeps(emb, vec), "status tiket", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("want empty result, got %+v", chunks)
	}
}

func TestRetrieveEmbedFailureAborts(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("embedding service down")}
	vec := &fakeSearcher{}

	if _, err := Retrieve(context.Background(), retrieveDeps(emb, vec), "status tiket", 0); err == nil {
		t.Fatal("want error when embedding fails")
	}
}

func TestRetrieveTruncatesToLimitTimesCollections(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1}}
	many := make([]qdrant.Point, 5)
	for i := range many {
		many[i] = qdrant.Point{ID: fmt.Sprintf("p%d", i), Score: float64(5-i) / 10}
	}
	vec := &fakeSearcher{byCollection: map[string][]qdrant.Point{
		"tickets_knowledge": many,
		"faq":               many,
	}}

	chunks, err := Retrieve(context.Background(), retrieveDeps(emb, vec), "tiket", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// limit 2 × 2 collections
	if len(chunks) != 4 {
		t.Fatalf("truncation: want=4 got=%d", len(chunks))
	}
}
