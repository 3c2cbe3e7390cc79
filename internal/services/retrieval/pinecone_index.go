// File: internal/services/retrieval/pinecone_index.go
package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeIndex stores chunk vectors in a Pinecone serverless index. Vector
// ids are "chunk-<id>" and metadata carries the project and document ids.
type PineconeIndex struct {
	config *Config
	client *pinecone.Client
	conn   *pinecone.IndexConnection
	retry  *RetryService
	logger Logger
}

func NewPineconeIndex(config *Config, logger Logger) (*PineconeIndex, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: config.PineconeAPIKey,
	})
	if err != nil {
		return nil, NewConnectionError(BackendPinecone, "create client", err)
	}

	conn, err := client.Index(pinecone.NewIndexConnParams{
		Host:      config.PineconeIndexHost,
		Namespace: config.PineconeNamespace,
	})
	if err != nil {
		return nil, NewConnectionError(BackendPinecone, "connect to index", err)
	}

	logger.Info("Pinecone index connection established",
		"host", config.PineconeIndexHost,
		"namespace", config.PineconeNamespace)

	return &PineconeIndex{
		config: config,
		client: client,
		conn:   conn,
		retry:  NewRetryService(config, logger),
		logger: logger,
	}, nil
}

func (p *PineconeIndex) Name() string { return BackendPinecone }

func (p *PineconeIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		vectors := make([]*pinecone.Vector, 0, end-start)
		for _, c := range chunks[start:end] {
			metadata, err := structpb.NewStruct(map[string]interface{}{
				"project_id":    float64(c.ProjectID),
				"document_id":   float64(c.DocumentID),
				"document_name": c.DocumentName,
				"ordinal":       float64(c.Ordinal),
				"content":       c.Content,
			})
			if err != nil {
				return NewOperationError(BackendPinecone, "build metadata", err)
			}
			values := c.Embedding
			vectors = append(vectors, &pinecone.Vector{
				Id:       vectorID(c.ID),
				Values:   &values,
				Metadata: metadata,
			})
		}

		err := p.retry.RetryWithTimeout(ctx, func(ctx context.Context) error {
			_, err := p.conn.UpsertVectors(ctx, vectors)
			return err
		})
		if err != nil {
			return NewOperationError(BackendPinecone, "upsert vectors", err)
		}
	}
	return nil
}

func (p *PineconeIndex) Query(ctx context.Context, projectID uint, embedding []float32, topK int) ([]Match, error) {
	filter, err := structpb.NewStruct(map[string]interface{}{
		"project_id": map[string]interface{}{"$eq": float64(projectID)},
	})
	if err != nil {
		return nil, NewOperationError(BackendPinecone, "build filter", err)
	}

	var res *pinecone.QueryVectorsResponse
	err = p.retry.RetryWithTimeout(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
			Vector:          embedding,
			TopK:            uint32(topK),
			MetadataFilter:  filter,
			IncludeMetadata: true,
		})
		return err
	})
	if err != nil {
		return nil, NewOperationError(BackendPinecone, "query vectors", err)
	}

	matches := make([]Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := Match{Score: m.Score}
		if id, ok := parseVectorID(m.Vector.Id); ok {
			match.ChunkID = id
		}
		if md := m.Vector.Metadata; md != nil {
			fields := md.GetFields()
			match.DocumentID = uint(fields["document_id"].GetNumberValue())
			match.DocumentName = fields["document_name"].GetStringValue()
			match.Content = fields["content"].GetStringValue()
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (p *PineconeIndex) DeleteDocument(ctx context.Context, projectID, documentID uint) error {
	filter, err := structpb.NewStruct(map[string]interface{}{
		"project_id":  map[string]interface{}{"$eq": float64(projectID)},
		"document_id": map[string]interface{}{"$eq": float64(documentID)},
	})
	if err != nil {
		return NewOperationError(BackendPinecone, "build filter", err)
	}
	if err := p.conn.DeleteVectorsByFilter(ctx, filter); err != nil {
		return NewOperationError(BackendPinecone, "delete vectors", err)
	}
	return nil
}

func (p *PineconeIndex) HealthCheck(ctx context.Context) error {
	if _, err := p.conn.DescribeIndexStats(ctx); err != nil {
		p.logger.Error("Pinecone health check failed", "error", err)
		return NewConnectionError(BackendPinecone, "describe index stats", err)
	}
	p.logger.Debug("Pinecone health check passed")
	return nil
}

func (p *PineconeIndex) Close() error {
	return p.conn.Close()
}

func vectorID(chunkID uint) string {
	return fmt.Sprintf("chunk-%d", chunkID)
}

func parseVectorID(id string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, "chunk-"), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}
