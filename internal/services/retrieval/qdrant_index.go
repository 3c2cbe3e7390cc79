// File: internal/services/retrieval/qdrant_index.go
package retrieval

import (
	"context"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex stores chunk vectors in a Qdrant collection. Points are keyed by
// chunk id and filtered by the project_id payload field.
type QdrantIndex struct {
	config *Config
	client *qdrant.Client
	retry  *RetryService
	logger Logger

	mu      sync.Mutex
	ensured    bool
}

func NewQdrantIndex(config *Config, logger Logger) (*QdrantIndex, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.QdrantHost,
		Port:   config.QdrantPort,
		APIKey: config.QdrantAPIKey,
		UseTLS: config.QdrantUseTLS,
	})
	if err != nil {
		return nil, NewConnectionError(BackendQdrant, "create client", err)
	}

	logger.Info("Qdrant client initialized",
		"host", config.QdrantHost,
		"port", config.QdrantPort,
		"collection", config.QdrantCollection)

	return &QdrantIndex{
		config: config,
		client: client,
		retry:  NewRetryService(config, logger),
		logger: logger,
	}, nil
}

func (q *QdrantIndex) Name() string { return BackendQdrant }

// ensureCollection creates the collection on first write, sized to the
// embedding dimension.
func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.config.QdrantCollection)
	if err != nil {
		return NewConnectionError(BackendQdrant, "check collection", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.config.QdrantCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return NewOperationError(BackendQdrant, "create collection", err)
		}
		q.logger.Info("Qdrant collection created", "collection", q.config.QdrantCollection, "dim", dim)
	}
	q.ensured = true
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += q.config.BatchSize {
		end := start + q.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, c := range chunks[start:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(c.ID)),
				Vectors: qdrant.NewVectors(c.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"project_id":    int64(c.ProjectID),
					"document_id":   int64(c.DocumentID),
					"document_name": c.DocumentName,
					"ordinal":       int64(c.Ordinal),
					"content":       c.Content,
				}),
			})
		}

		wait := true
		err := q.retry.RetryWithTimeout(ctx, func(ctx context.Context) error {
			_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: q.config.QdrantCollection,
				Wait:           &wait,
				Points:         points,
			})
			return err
		})
		if err != nil {
			return NewOperationError(BackendQdrant, "upsert points", err)
		}
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, projectID uint, embedding []float32, topK int) ([]Match, error) {
	limit := uint64(topK)
	var points []*qdrant.ScoredPoint
	err := q.retry.RetryWithTimeout(ctx, func(ctx context.Context) error {
		var err error
		points, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.config.QdrantCollection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          &limit,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatchInt("project_id", int64(projectID)),
				},
			},
			WithPayload: qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, NewOperationError(BackendQdrant, "query points", err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		matches = append(matches, Match{
			ChunkID:      uint(p.GetId().GetNum()),
			DocumentID:   uint(payload["document_id"].GetIntegerValue()),
			DocumentName: payload["document_name"].GetStringValue(),
			Content:      payload["content"].GetStringValue(),
			Score:        p.GetScore(),
		})
	}
	return matches, nil
}

func (q *QdrantIndex) DeleteDocument(ctx context.Context, projectID, documentID uint) error {
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.config.QdrantCollection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("project_id", int64(projectID)),
				qdrant.NewMatchInt("document_id", int64(documentID)),
			},
		}),
	})
	if err != nil {
		return NewOperationError(BackendQdrant, "delete points", err)
	}
	return nil
}

func (q *QdrantIndex) HealthCheck(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		q.logger.Error("Qdrant health check failed", "error", err)
		return NewConnectionError(BackendQdrant, "health check", err)
	}
	q.logger.Debug("Qdrant health check passed")
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
