package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kira-host/kira/infrastructure/cache"
	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// searchCacheTTL bounds how long a repeated (query, k) lookup can be served
// from memory. AddDocument drops every cached result, so a newly added
// document is visible to the next Search regardless of the TTL.
const searchCacheTTL = 30 * time.Second

// Document is one piece of retrievable context.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// nullEmbeddingFunc satisfies chromem's EmbeddingFunc contract without
// calling out to an embedding provider: ranking here is lexical
// (token-overlap), not vector similarity, so the embedding itself is never
// read, only stored so the collection stays structurally valid.
func nullEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return []float32{0}, nil
}

// RAGStore is an append-only document store with a deterministic,
// token-overlap lexical retriever. Documents persist to a single JSON file
// that is fully re-read on startup; the in-process chromem-go collection
// mirrors the same documents so the store can grow into vector search later
// without a storage migration.
type RAGStore struct {
	mu     sync.Mutex
	path   string
	docs   []Document
	coll   *chromem.Collection
	search *cache.SearchResultCache
}

// NewRAGStore opens (or creates) the JSON-backed document store at path. A
// missing file is not an error: it starts empty.
func NewRAGStore(path string) (*RAGStore, error) {
	db := chromem.NewDB()
	coll, err := db.CreateCollection("kira-rag", nil, nullEmbeddingFunc)
	if err != nil {
		return nil, kerrors.Internal("create rag collection", err)
	}

	s := &RAGStore{path: path, coll: coll, search: cache.NewSearchResultCache(searchCacheTTL)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RAGStore) load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return kerrors.Internal("read rag store", err)
	}
	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return kerrors.InvalidFormat("rag store file", "valid JSON document array")
	}
	ctx := context.Background()
	for _, doc := range docs {
		if err := s.coll.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}); err != nil {
			return kerrors.Internal("rebuild rag collection", err)
		}
	}
	s.docs = docs
	return nil
}

func (s *RAGStore) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.docs)
	if err != nil {
		return kerrors.Internal("encode rag store", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return kerrors.Internal("create rag store directory", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return kerrors.Internal("write rag store", err)
	}
	return os.Rename(tmp, s.path)
}

// AddDocument appends doc to the store and persists the updated file.
func (s *RAGStore) AddDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.coll.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: doc.Metadata,
	}); err != nil {
		return kerrors.Internal("add rag document", err)
	}
	s.docs = append(s.docs, doc)
	s.search.InvalidateAll()
	return s.persist()
}

// Search ranks every stored document by token-overlap against query and
// returns the top k. Ties are broken by insertion order (stable sort).
func (s *RAGStore) Search(query string, k int) []SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || k <= 0 {
		return nil
	}

	ctx := context.Background()
	if cached, ok := s.search.Get(ctx, query, k); ok {
		return cached.([]SearchResult)
	}

	results := make([]SearchResult, 0, len(s.docs))
	for _, doc := range s.docs {
		score := overlapScore(queryTokens, tokenize(doc.Content))
		if score > 0 {
			results = append(results, SearchResult{Document: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	s.search.Set(ctx, query, k, results)
	return results
}

// Count returns the number of documents currently stored.
func (s *RAGStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func tokenize(text string) map[string]int {
	counts := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		counts[field]++
	}
	return counts
}

// overlapScore is the fraction of queryTokens also present in docTokens —
// deterministic, cheap, and good enough for a lexical-only retriever.
func overlapScore(queryTokens, docTokens map[string]int) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matched := 0
	for token := range queryTokens {
		if _, ok := docTokens[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
