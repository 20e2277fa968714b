package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/autoqa/agentcore/internal/agentstate"
)

// VectorIndex is the embedding-search backend the test-case corpus uses
// for semantic lookup. internal/vectorindex provides the default
// in-process cosine implementation and a Redis-backed alternate for
// larger corpora.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, embedding []float64) error
	Delete(ctx context.Context, id string) error
	// Search returns the ids of the top-k nearest neighbors of embedding with
	// cosine similarity at or above minSimilarity, ordered best-first.
	Search(ctx context.Context, embedding []float64, topK int, minSimilarity float64) ([]string, error)
}

// Embedder turns a test case's searchable text into a vector for VectorIndex.
// Kept as an interface so the corpus doesn't depend on any one model
// provider to embed text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// TestCaseStore persists ingested test cases, keyed by id, with semantic
// search over an embedding index. Ingestion is idempotent by source
// content hash: a file whose hash is unchanged is not reindexed.
type TestCaseStore struct {
	mu       sync.Mutex
	dir      string
	index    VectorIndex
	embedder Embedder
	cases    map[string]*agentstate.TestCase
	loaded   bool
}

// NewTestCaseStore builds a store rooted at dir. index/embedder may be nil
// to disable semantic search (id-exact lookup still works).
func NewTestCaseStore(dir string, index VectorIndex, embedder Embedder) *TestCaseStore {
	return &TestCaseStore{dir: dir, index: index, embedder: embedder, cases: make(map[string]*agentstate.TestCase)}
}

func (s *TestCaseStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *TestCaseStore) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var tc agentstate.TestCase
		if err := readJSON(filepath.Join(s.dir, entry.Name()), &tc); err == nil {
			s.cases[tc.ID] = &tc
		}
	}
}

// HashContent returns the stable content hash used for ingestion
// idempotence: a spreadsheet whose bytes are unchanged is not reindexed.
func HashContent(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Upsert adds or replaces a test case. If sourceHash matches an existing
// case with the same id, the write (and any re-embedding) is skipped.
func (s *TestCaseStore) Upsert(ctx context.Context, tc agentstate.TestCase) (reindexed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	if existing, ok := s.cases[tc.ID]; ok && existing.SourceHash != "" && existing.SourceHash == tc.SourceHash {
		return false, nil
	}

	copied := tc
	s.cases[tc.ID] = &copied
	if err := writeJSONAtomic(s.path(tc.ID), &copied); err != nil {
		return false, err
	}

	if s.index != nil && s.embedder != nil {
		text := searchableText(tc)
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return true, fmt.Errorf("embedding test case %s: %w", tc.ID, err)
		}
		if err := s.index.Upsert(ctx, tc.ID, embedding); err != nil {
			return true, fmt.Errorf("indexing test case %s: %w", tc.ID, err)
		}
	}
	return true, nil
}

func searchableText(tc agentstate.TestCase) string {
	text := tc.Title + " " + tc.Description + " " + tc.Expected
	for _, step := range tc.Steps {
		text += " " + step.Goal
	}
	return text
}

// Get retrieves a test case by exact id.
func (s *TestCaseStore) Get(id string) (agentstate.TestCase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	tc, ok := s.cases[id]
	if !ok {
		return agentstate.TestCase{}, false
	}
	return *tc, true
}

// Search performs semantic retrieval: embeds query and returns the top-k
// test cases whose cosine similarity is at or above minSimilarity.
func (s *TestCaseStore) Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]agentstate.TestCase, error) {
	if s.index == nil || s.embedder == nil {
		return nil, nil
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	ids, err := s.index.Search(ctx, embedding, topK, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("searching vector index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	out := make([]agentstate.TestCase, 0, len(ids))
	for _, id := range ids {
		if tc, ok := s.cases[id]; ok {
			out = append(out, *tc)
		}
	}
	return out, nil
}

// MarshalForInspection returns the raw JSON a CLI inspection command prints
// for one test case, used by cmd/agentctl rather than core logic.
func (s *TestCaseStore) MarshalForInspection(id string) ([]byte, error) {
	tc, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("test case %s not found", id)
	}
	return json.MarshalIndent(tc, "", "  ")
}
