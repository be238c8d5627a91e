package knowledge

// Chunk is the unit of retrieval: a fixed-size window of a source document.
// Chunks are immutable; when a document's content hash changes, all of its
// chunks are replaced wholesale.
type Chunk struct {
	ID          string `json:"id"`
	SourcePath  string `json:"source_path"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
}

// RetrievalResult pairs a chunk with its similarity score. Results are
// ordered descending by score.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
