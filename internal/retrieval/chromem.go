package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore implements VectorStore with an embedded chromem-go database.
type ChromemStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

var _ VectorStore = (*ChromemStore)(nil)

// NewChromemStore opens a chromem database. With an empty persistPath the
// database lives in memory only.
func NewChromemStore(persistPath string, embed EmbeddingFunc) (*ChromemStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	var db *chromem.DB
	if persistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent vector DB: %w", err)
		}
		slog.Debug("ChromemStore.NewChromemStore: persistent database opened", "path", persistPath)
	} else {
		db = chromem.NewDB()
	}
	return &ChromemStore{
		db:          db,
		embed:       chromem.EmbeddingFunc(embed),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	s.collections[name] = c
	return c, nil
}

// AddDocuments embeds and stores docs. Documents with an existing ID replace it.
func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		err := c.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	slog.Debug("ChromemStore.AddDocuments: documents stored", "collection", collection, "count", len(docs))
	return nil
}

// SimilaritySearch queries the collection by text.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, collection, query string, k int, filter map[string]string) ([]Document, error) {
	if query == "" || k <= 0 {
		return nil, nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem rejects a result count larger than the collection.
	if n := c.Count(); n == 0 {
		return nil, nil
	} else if k > n {
		k = n
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := c.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	return docs, nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemStore) Close() error { return nil }
