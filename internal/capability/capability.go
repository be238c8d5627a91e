// Package capability holds the engine's outward-facing collaborators:
// calendar, email, and web search. Handlers only see these interfaces and a
// success-or-failure result; provider formats never leak past this package.
package capability

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by providers that were built without the
// credentials or configuration they need. Handlers turn it into a polite
// "this isn't set up" reply instead of failing the cycle.
var ErrNotConfigured = errors.New("capability not configured")

type Event struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	StartUnixMs int64 `json:"start_unix_ms"`
	EndUnixMs   int64 `json:"end_unix_ms"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
}

type Calendar interface {
	CreateEvent(ctx context.Context, ev Event) (Event, error)
	ListEvents(ctx context.Context, from time.Time, to time.Time) ([]Event, error)
	DeleteEvent(ctx context.Context, id int64) error
}

type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

type Email interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type SearchRequest struct {
	Query string
	Count int
}

type ResultItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type SearchResult struct {
	Provider string       `json:"provider"`
	Query    string       `json:"query"`
	Results  []ResultItem `json:"results"`
}

type WebSearcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}
