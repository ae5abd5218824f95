package answer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Retrieve embeds the query once, fans out over every configured collection,
// and merges hits by similarity. A failing collection is logged and skipped;
// only a total embedding failure aborts retrieval.
func Retrieve(ctx context.Context, deps Deps, queryText string, limit int) ([]RetrievedChunk, error) {
	if deps.Emb == nil || deps.Vec == nil {
		return nil, fmt.Errorf("retrieve: missing deps")
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("retrieve: empty query")
	}
	if limit <= 0 {
		limit = deps.Cfg.RetrieveLimit
	}
	collections := deps.Cfg.Collections

	embedCtx, cancel := context.WithTimeout(ctx, deps.Cfg.Timeouts.Embed)
	defer cancel()
	vecs, err := deps.Emb.Embed(embedCtx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("retrieve: empty embedding")
	}
	vector := vecs[0]

	// Indexed by collection position so the merge order never depends on
	// goroutine completion order.
	perCollection := make([][]RetrievedChunk, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range collections {
		i, collection := i, collection
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(gctx, deps.Cfg.Timeouts.VectorSearch)
			defer cancel()

			points, err := deps.Vec.Search(searchCtx, collection, vector, limit)
			if err != nil {
				if deps.Log != nil {
					deps.Log.Warn("vector search failed; skipping collection",
						"collection", collection, "error", err)
				}
				return nil
			}

			chunks := make([]RetrievedChunk, 0, len(points))
			for _, p := range points {
				chunks = append(chunks, RetrievedChunk{
					ID:         p.ID,
					Title:      payloadString(p.Payload, "title"),
					Content:    payloadString(p.Payload, "content"),
					Similarity: p.Score,
					Collection: collection,
				})
			}

			perCollection[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	var merged []RetrievedChunk
	for _, chunks := range perCollection {
		merged = append(merged, chunks...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if max := limit * len(collections); len(merged) > max {
		merged = merged[:max]
	}
	return merged, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
