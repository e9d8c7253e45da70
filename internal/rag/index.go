package rag

import (
	"context"
	"fmt"
	"log"

	"github.com/qdrant/go-client/qdrant"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/models"
)

// Embedder produces embedding vectors for memory content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryIndex keeps memory embeddings in Qdrant for semantic search.
// Indexing failures are logged, not surfaced: the SQL store remains the
// source of truth and keyword search still works without the index.
type MemoryIndex struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	vectorSize int
}

func NewMemoryIndex(cfg config.QdrantConfig, embedder Embedder) (*MemoryIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.APIKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &MemoryIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// EnsureCollection creates the memory collection if it does not exist.
func (idx *MemoryIndex) EnsureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// Index stores or refreshes the embedding for a memory.
func (idx *MemoryIndex) Index(ctx context.Context, m *models.Memory) error {
	vector, err := idx.embedder.Embed(ctx, m.Title+"\n"+m.Content)
	if err != nil {
		return fmt.Errorf("failed to embed memory %d: %w", m.ID, err)
	}

	_, err = idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(uint64(m.ID)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"title":        m.Title,
					"context_type": m.ContextType,
					"game_name":    m.GameName,
				}),
			},
		},
	})
	return err
}

// Remove drops a memory from the index.
func (idx *MemoryIndex) Remove(ctx context.Context, id uint) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(id))),
	})
	return err
}

// Search returns memory ids ranked by semantic similarity to the query.
func (idx *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]uint, error) {
	vector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(points))
	for _, p := range points {
		ids = append(ids, uint(p.Id.GetNum()))
	}
	return ids, nil
}

// Close releases the grpc connection.
func (idx *MemoryIndex) Close() {
	if err := idx.client.Close(); err != nil {
		log.Printf("[RAG] Failed to close qdrant client: %v", err)
	}
}
