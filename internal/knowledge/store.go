// Package knowledge is the chunked-document index behind the knowledge
// handler: overlapping windows of plain-text documents, embedded once and
// searched by cosine similarity.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm/embedding"
)

const (
	DefaultTopK     = 3
	DefaultMinScore = 0.5

	collectionName = "knowledge"
	manifestName   = "sources.json"
)

type Options struct {
	// TopK is the default result count when Search is called with topK <= 0.
	TopK int
	// MinScore drops weaker matches; empty results are a normal outcome.
	MinScore float64
	// ChunkSize/ChunkOverlap control document windowing.
	ChunkSize    int
	ChunkOverlap int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap <= 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	return o
}

// Store owns the vector index and the per-document content-hash manifest.
// Reads are safe concurrently; writes (ingest/remove/rebuild) take the
// single-writer lock.
type Store struct {
	log  *slog.Logger
	opts Options
	dir  string

	col *chromem.Collection

	mu     sync.Mutex
	hashes map[string]string // source_path -> content hash at last index
}

// Open loads (or creates) the persistent index under dir.
func Open(dir string, embedder embedding.Embedder, opts Options, log *slog.Logger) (*Store, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, errors.New("missing knowledge dir")
	}
	if embedder == nil {
		return nil, errors.New("nil embedder")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, "index"), false)
	if err != nil {
		return nil, err
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, chromem.EmbeddingFunc(embedder.Embed))
	if err != nil {
		return nil, err
	}

	s := &Store{
		log:    log,
		opts:   opts.withDefaults(),
		dir:    dir,
		col:    col,
		hashes: make(map[string]string),
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// Search returns the topK most similar chunks with score >= MinScore,
// descending. An empty index or no sufficiently similar chunks yields an
// empty slice, never an error.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	if s == nil || s.col == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("missing query")
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	count := s.col.Count()
	if count == 0 {
		return []RetrievalResult{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.col.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make([]RetrievalResult, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < s.opts.MinScore {
			continue
		}
		out = append(out, RetrievalResult{
			Chunk: Chunk{
				ID:          r.ID,
				SourcePath:  r.Metadata["source"],
				Text:        r.Content,
				ContentHash: r.Metadata["hash"],
			},
			Score: score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Ingest indexes one document. If the content hash matches the last indexed
// hash the document is left untouched; otherwise its chunks are replaced
// wholesale.
func (s *Store) Ingest(ctx context.Context, sourcePath string, text string) error {
	if s == nil || s.col == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return errors.New("missing source path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := ContentHash(strings.TrimSpace(text))
	if s.hashes[sourcePath] == hash {
		s.log.Debug("knowledge source unchanged", "source", sourcePath)
		return nil
	}

	if _, indexed := s.hashes[sourcePath]; indexed {
		if err := s.col.Delete(ctx, map[string]string{"source": sourcePath}, nil); err != nil {
			return err
		}
	}

	chunks := splitDocument(sourcePath, text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	for _, chunk := range chunks {
		doc := chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Text,
			Metadata: map[string]string{
				"source": chunk.SourcePath,
				"hash":   chunk.ContentHash,
			},
		}
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return err
		}
	}

	s.hashes[sourcePath] = hash
	if err := s.saveManifestLocked(); err != nil {
		return err
	}
	s.log.Info("knowledge source indexed", "source", sourcePath, "chunks", len(chunks))
	return nil
}

// Remove deletes all chunks of a document.
func (s *Store) Remove(ctx context.Context, sourcePath string) error {
	if s == nil || s.col == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return errors.New("missing source path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.col.Delete(ctx, map[string]string{"source": sourcePath}, nil); err != nil {
		return err
	}
	delete(s.hashes, sourcePath)
	return s.saveManifestLocked()
}

// RebuildDir walks a directory of .txt/.md documents, ingests changed files
// and removes documents whose files are gone. It returns the number of files
// whose index entries changed.
func (s *Store) RebuildDir(ctx context.Context, dir string) (int, error) {
	if s == nil || s.col == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return 0, errors.New("missing source dir")
	}

	seen := make(map[string]struct{})
	changed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		seen[rel] = struct{}{}

		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		before := s.hashOf(rel)
		if err := s.Ingest(ctx, rel, string(b)); err != nil {
			return err
		}
		if s.hashOf(rel) != before {
			changed++
		}
		return nil
	})
	if err != nil {
		return changed, err
	}

	for _, source := range s.indexedSources() {
		if _, ok := seen[source]; ok {
			continue
		}
		if err := s.Remove(ctx, source); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *Store) hashOf(sourcePath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[sourcePath]
}

func (s *Store) indexedSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hashes))
	for source := range s.hashes {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

func (s *Store) loadManifest() error {
	b, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, &s.hashes)
}

func (s *Store) saveManifestLocked() error {
	b, err := json.MarshalIndent(s.hashes, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	path := filepath.Join(s.dir, manifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
