// Package loader reads extracted document records. The extractor itself runs
// elsewhere; this package only decodes its output and rejects records that
// lack the fields the pipeline keys on.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 * 1024 * 1024

// Source yields the documents of one extraction, in extractor order.
type Source interface {
	Documents(ctx context.Context) ([]common.DocumentRecord, error)
	// Name describes the source for logs, e.g. a path or s3 URI.
	Name() string
}

// ReadJSONL decodes one DocumentRecord per non-blank line. origin is used in
// error messages.
func ReadJSONL(ctx context.Context, r io.Reader, origin string) ([]common.DocumentRecord, error) {
	const op = "extract.decode"

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		docs []common.DocumentRecord
		seen = make(map[string]int)
		line int
	)
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var doc common.DocumentRecord
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, ingesterr.New(ingesterr.KindValidation, op, fmt.Errorf("%s:%d: %w", origin, line, err))
		}
		if err := Validate(doc); err != nil {
			return nil, ingesterr.New(ingesterr.KindValidation, op, fmt.Errorf("%s:%d: %w", origin, line, err))
		}
		if prev, ok := seen[doc.ID]; ok {
			return nil, ingesterr.Newf(ingesterr.KindValidation, op, "%s:%d: duplicate id %q (first seen on line %d)", origin, line, doc.ID, prev)
		}
		seen[doc.ID] = line
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", origin, err)
	}
	return docs, nil
}

// Validate checks the fields every record must carry.
func Validate(doc common.DocumentRecord) error {
	switch {
	case doc.ID == "":
		return fmt.Errorf("record has no id")
	case doc.EmbeddingText == "":
		return fmt.Errorf("record %q has no embedding_text", doc.ID)
	case doc.ContentHash == "":
		return fmt.Errorf("record %q has no content_hash", doc.ID)
	}
	return nil
}

// Limit returns the first n documents. n <= 0 returns docs unchanged.
func Limit(docs []common.DocumentRecord, n int) []common.DocumentRecord {
	if n <= 0 || n >= len(docs) {
		return docs
	}
	return docs[:n]
}
