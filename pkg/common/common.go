package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentRecord is a document as yielded by the extractor. The core only
// reads it.
//
// ID, EmbeddingText and ContentHash are required. The remaining fields are
// descriptive attributes that end up in the doc_metadata table.
type DocumentRecord struct {
	ID            string   `json:"id"`
	EmbeddingText string   `json:"embedding_text"`
	ContentHash   string   `json:"content_hash"`
	Title         string   `json:"title,omitempty"`
	SourcePath    string   `json:"source_path,omitempty"`
	DateYMD       string   `json:"date_ymd,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	RubricIDs     []string `json:"rubric_ids,omitempty"`
	CategoryIDs   []string `json:"category_ids,omitempty"`
}

// EmbeddingRecord is a stored vector for one document under one model.
// SourceHash is the ContentHash of the document at the time the vector was
// computed.
type EmbeddingRecord struct {
	DocID      string
	DocType    string
	Model      string
	SourceHash string
	Vector     []float32
	UpdatedAt  time.Time
}

// Edge is an undirected similarity edge. SourceID < TargetID always holds.
type Edge struct {
	SourceID      string
	TargetID      string
	DocType       string
	Method        string
	Weight        float64
	K             int
	MinSimilarity float64
}

// Touches reports whether id is one of the edge's endpoints.
func (e Edge) Touches(id string) bool {
	return e.SourceID == id || e.TargetID == id
}

// CanonicalPair orders two ids so the smaller one comes first.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// RunContext carries the per-execution flags through every component. It is
// passed by value and never modified after creation.
type RunContext struct {
	RunID      string
	Mode       Mode
	DryRun     bool
	FailFast   bool
	LimitPosts int
	MinPosts   int
}

// NewRunID returns a short random run identifier: the first eight hex
// characters of a random UUID.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
