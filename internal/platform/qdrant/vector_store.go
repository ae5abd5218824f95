package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danutirta/tanyadata-backend/internal/platform/ctxutil"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

// Point is a single search result.
type Point struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// UpsertPoint is a point to index. Used by the seeding tools, not the query path.
type UpsertPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// VectorStore is a thin client over the Qdrant HTTP API. All operations take
// the collection name explicitly; the store keeps no per-collection state
// beyond a lazily learned distance metric used to normalize scores.
type VectorStore struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger

	mu        sync.Mutex
	distances map[string]string
}

func NewVectorStore(cfg Config, log *logger.Logger) (*VectorStore, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log != nil {
		log = log.With("service", "qdrant_vector_store")
	}
	return &VectorStore{
		cfg:       cfg,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log,
		distances: make(map[string]string),
	}, nil
}

// Healthy probes the readiness endpoint.
func (s *VectorStore) Healthy(ctx context.Context) error {
	if s == nil {
		return errors.New("qdrant: nil vector store")
	}
	ctx = ctxutil.Default(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+"/readyz", nil)
	if err != nil {
		return opErr(codeEncodeFailed, "healthy", "", 0, "build request", err)
	}
	s.authorize(req)
	resp, err := s.http.Do(req)
	if err != nil {
		return classifyCallError("healthy", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return opErr(codeQueryFailed, "healthy", "", resp.StatusCode, "readiness probe failed", nil)
	}
	return nil
}

// Search runs a nearest-neighbor query against one collection.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Point, error) {
	if s == nil {
		return nil, errors.New("qdrant: nil vector store")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, opErr(codeValidationFailed, "search", "", 0, "collection is required", nil)
	}
	if len(vector) == 0 {
		return nil, opErr(codeValidationFailed, "search", collection, 0, "vector is empty", nil)
	}
	if s.cfg.VectorDim > 0 && len(vector) != s.cfg.VectorDim {
		return nil, opErr(codeValidationFailed, "search", collection, 0,
			fmt.Sprintf("vector dim mismatch: want %d got %d", s.cfg.VectorDim, len(vector)), nil)
	}
	if limit <= 0 {
		limit = 5
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var out struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float64         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", collection)
	if err := s.doJSON(ctx, "search", collection, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	dist := s.collectionDistance(ctx, collection)
	points := make([]Point, 0, len(out.Result))
	for _, r := range out.Result {
		points = append(points, Point{
			ID:      decodePointID(r.ID),
			Score:   normalizeScore(r.Score, dist),
			Payload: r.Payload,
		})
	}
	return points, nil
}

// EnsureCollection creates the collection if it does not already exist.
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string) error {
	if s == nil {
		return errors.New("qdrant: nil vector store")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(codeValidationFailed, "ensure_collection", "", 0, "collection is required", nil)
	}

	var info struct {
		Result map[string]any `json:"result"`
	}
	err := s.doJSON(ctx, "ensure_collection", collection, http.MethodGet, "/collections/"+collection, nil, &info)
	if err == nil {
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": "Cosine",
		},
	}
	return s.doJSON(ctx, "ensure_collection", collection, http.MethodPut, "/collections/"+collection, body, nil)
}

// Upsert indexes points into a collection.
func (s *VectorStore) Upsert(ctx context.Context, collection string, points []UpsertPoint) error {
	if s == nil {
		return errors.New("qdrant: nil vector store")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(codeValidationFailed, "upsert", "", 0, "collection is required", nil)
	}
	if len(points) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return opErr(codeValidationFailed, "upsert", collection, 0,
				fmt.Sprintf("point %d has empty vector", i), nil)
		}
		wire = append(wire, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	body := map[string]any{"points": wire}
	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	return s.doJSON(ctx, "upsert", collection, http.MethodPut, path, body, nil)
}

func (s *VectorStore) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *VectorStore) doJSON(ctx context.Context, operation, collection, method, path string, body, out any) error {
	ctx = ctxutil.Default(ctx)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return opErr(codeEncodeFailed, operation, collection, 0, "encode request body", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, reader)
	if err != nil {
		return opErr(codeEncodeFailed, operation, collection, 0, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyCallError(operation, collection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return opErr(codeDecodeFailed, operation, collection, resp.StatusCode, "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return opErr(codeQueryFailed, operation, collection, resp.StatusCode, truncate(string(raw), 300), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return opErr(codeDecodeFailed, operation, collection, resp.StatusCode, "decode response body", err)
	}
	return nil
}

// collectionDistance fetches the collection's distance metric once and caches
// it. Failures fall back to Cosine, for which Qdrant already returns a
// similarity score.
func (s *VectorStore) collectionDistance(ctx context.Context, collection string) string {
	s.mu.Lock()
	if d, ok := s.distances[collection]; ok {
		s.mu.Unlock()
		return d
	}
	s.mu.Unlock()

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	dist := "Cosine"
	if err := s.doJSON(ctx, "collection_info", collection, http.MethodGet, "/collections/"+collection, nil, &info); err == nil {
		if d := strings.TrimSpace(info.Result.Config.Params.Vectors.Distance); d != "" {
			dist = d
		}
	} else if s.log != nil {
		s.log.Warn("collection distance lookup failed, assuming cosine", "collection", collection, "error", err)
	}

	s.mu.Lock()
	s.distances[collection] = dist
	s.mu.Unlock()
	return dist
}

// normalizeScore maps raw Qdrant scores into [0,1] similarity regardless of
// the collection's distance metric.
func normalizeScore(score float64, distance string) float64 {
	var sim float64
	switch strings.ToLower(distance) {
	case "euclid", "euclidean":
		sim = 1.0 / (1.0 + score)
	case "dot":
		sim = (score + 1.0) / 2.0
	default: // cosine similarity
		sim = (score + 1.0) / 2.0
		if score >= 0 && score <= 1 {
			sim = score
		}
	}
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return strings.Trim(string(raw), `"`)
}

func classifyCallError(operation, collection string, err error) *OperationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return opErr(codeTimeout, operation, collection, 0, "request timed out", err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return opErr(codeTimeout, operation, collection, 0, "request timed out", err)
	}
	return opErr(codeTransportFailed, operation, collection, 0, "transport failure", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
