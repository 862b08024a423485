package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.jsonl")
	body := `{"id":"p1","embedding_text":"one","content_hash":"h1"}
{"id":"p2","embedding_text":"two","content_hash":"h2"}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := NewFileSource(path)
	docs, err := src.Documents(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(docs) != 2 || docs[1].ID != "p2" {
		t.Fatalf("expected p1, p2, got %+v", docs)
	}
	if src.Name() != path {
		t.Fatalf("expected name %s, got %s", path, src.Name())
	}
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl"))
	_, err := src.Documents(context.Background())
	if !ingesterr.IsKind(err, ingesterr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
