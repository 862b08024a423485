// Package jsonl reads document records from a JSON Lines file on the local
// filesystem.
package jsonl

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/loader"
)

// FileSource is a loader.Source for a local .jsonl file.
type FileSource struct {
	path string
}

var _ loader.Source = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string {
	return s.path
}

// Documents reads the whole file. A missing file is a configuration error.
func (s *FileSource) Documents(ctx context.Context) ([]common.DocumentRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ingesterr.Newf(ingesterr.KindConfig, "extract.open", "source %s does not exist", s.path)
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	return loader.ReadJSONL(ctx, f, s.path)
}
