package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/repotest"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// keywordEmbedder maps text onto three axes by keyword presence.
type keywordEmbedder struct{}

func (keywordEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	vec := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"go", "rust", "python"} {
		if strings.Contains(text, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func TestChunkText(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, ChunkText("   \n\n ", 100, 10))
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello world"}, ChunkText("hello world", 100, 10))
	})

	t.Run("paragraphs are packed up to size", func(t *testing.T) {
		text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40) + "\n\n" + strings.Repeat("c", 40)
		chunks := ChunkText(text, 100, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, strings.Repeat("a", 40)+"\n\n"+strings.Repeat("b", 40), chunks[0])
		assert.Equal(t, strings.Repeat("c", 40), chunks[1])
	})

	t.Run("long paragraph is split on words", func(t *testing.T) {
		text := strings.TrimSpace(strings.Repeat("word ", 60))
		chunks := ChunkText(text, 50, 0)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), 50)
			assert.NotContains(t, c, "wo rd")
		}
	})

	t.Run("overlap carries the previous tail", func(t *testing.T) {
		text := strings.Repeat("x", 60) + "\n\n" + strings.Repeat("y", 60)
		chunks := ChunkText(text, 80, 10)
		require.Len(t, chunks, 2)
		assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("x", 10)+"\n\n"))
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestEmbeddingRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, DecodeEmbedding(EncodeEmbedding(v)))
}

func TestLocalIndexRetrieve(t *testing.T) {
	ctx := context.Background()
	db := repotest.Open(t)

	project := &domain.Project{Name: "p"}
	require.NoError(t, db.Create(project).Error)
	other := &domain.Project{Name: "other"}
	require.NoError(t, db.Create(other).Error)

	config := DefaultConfig()
	svc := NewService(config, NewLocalIndex(db, nopLogger{}), keywordEmbedder{}, nopLogger{})

	store := func(projectID uint, name string, contents ...string) *domain.Document {
		doc := &domain.Document{ProjectID: projectID, Name: name, Status: domain.DocumentReady}
		require.NoError(t, db.Create(doc).Error)
		chunks := make([]Chunk, 0, len(contents))
		for i, c := range contents {
			row := &domain.DocumentChunk{DocumentID: doc.ID, ProjectID: projectID, Ordinal: i, Content: c}
			require.NoError(t, db.Create(row).Error)
			chunks = append(chunks, Chunk{ID: row.ID, DocumentID: doc.ID, ProjectID: projectID, DocumentName: name, Ordinal: i, Content: c})
		}
		require.NoError(t, svc.Embed(ctx, chunks))
		require.NoError(t, svc.Index(ctx, chunks))
		return doc
	}

	store(project.ID, "langs.md", "Go has goroutines", "Rust has ownership", "Python has generators")
	store(other.ID, "secret.md", "Go in another project")

	matches, err := svc.Retrieve(ctx, project.ID, "tell me about go")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Go has goroutines", matches[0].Content)
	assert.Equal(t, "langs.md", matches[0].DocumentName)
	for _, m := range matches {
		assert.NotEqual(t, "Go in another project", m.Content)
		assert.GreaterOrEqual(t, m.Score, config.MinScore)
	}

	empty, err := svc.Retrieve(ctx, project.ID, "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalIndexSkipsDeletedDocuments(t *testing.T) {
	ctx := context.Background()
	db := repotest.Open(t)

	project := &domain.Project{Name: "p"}
	require.NoError(t, db.Create(project).Error)
	doc := &domain.Document{ProjectID: project.ID, Name: "gone.md", Status: domain.DocumentReady}
	require.NoError(t, db.Create(doc).Error)

	vec, _ := keywordEmbedder{}.CreateEmbedding(ctx, "go")
	row := &domain.DocumentChunk{DocumentID: doc.ID, ProjectID: project.ID, Content: "go", Embedding: EncodeEmbedding(vec)}
	require.NoError(t, db.Create(row).Error)
	require.NoError(t, db.Delete(doc).Error)

	matches, err := NewLocalIndex(db, nopLogger{}).Query(ctx, project.ID, vec, 4)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetryWithTimeout(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = time.Millisecond
	config.MaxRetries = 2
	retry := NewRetryService(config, nopLogger{})

	calls := 0
	err := retry.RetryWithTimeout(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retry.RetryWithTimeout(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})
	var indexErr *IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "retry", indexErr.Type)
	assert.Equal(t, 3, calls)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.Backend = BackendQdrant
	c.QdrantHost = ""
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Backend = BackendPinecone
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.ChunkOverlap = c.ChunkSize
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Backend = "faiss"
	assert.Error(t, c.Validate())
}

func TestVectorID(t *testing.T) {
	id, ok := parseVectorID(vectorID(42))
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)
	_, ok = parseVectorID("doc-x")
	assert.False(t, ok)
}
