package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// runIDField is the payload field every point is tagged with, so a single
// Qdrant collection can serve many concurrent IndexingRuns while each
// Search stays scoped to one run.
const runIDField = "run_id"

// chunkIDField stores the caller's chunk ID, since Qdrant only accepts
// UUID or integer point IDs.
const chunkIDField = "chunk_id"

// Qdrant is the alternate vector backend (spec §9 "pluggable vector
// backend"). internal/wiring does not select it: Build always constructs
// the Postgres backend, and no setting switches to Qdrant.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant connects to a Qdrant instance over its gRPC API (default port
// 6334) and ensures the collection exists with cosine distance, matching
// the Postgres backend's single supported metric.
func NewQdrant(ctx context.Context, dsn, collection string, dimensions int) (*Qdrant, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dimension: dimensions}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointUUID(runID, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID+"/"+chunkID)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, runID, chunkID string, embedding []float32) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointUUID(runID, chunkID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(map[string]any{
			runIDField:   runID,
			chunkIDField: chunkID,
		}),
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	return err
}

func (q *Qdrant) Delete(ctx context.Context, runID, chunkID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(runID, chunkID))),
	})
	return err
}

// Search returns the K nearest neighbors within runID, ascending by
// distance (Qdrant reports similarity score; cosine distance is derived as
// 1-score to keep the Neighbor contract identical across backends).
func (q *Qdrant) Search(ctx context.Context, runID string, embedding []float32, k int) ([]Neighbor, error) {
	k = clampK(k)
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(runIDField, runID)},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, len(hits))
	for _, hit := range hits {
		chunkID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[chunkIDField]; ok {
				chunkID = v.GetStringValue()
			}
		}
		out = append(out, Neighbor{ChunkID: chunkID, Distance: 1 - float64(hit.Score)})
	}
	return out, nil
}

func (q *Qdrant) Close() error { return q.client.Close() }
