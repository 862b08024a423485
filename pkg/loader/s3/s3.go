// Package s3 reads document records from a JSON Lines object in an S3
// bucket.
package s3

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/internal/storage"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/loader"
)

// ObjectSource is a loader.Source for s3://bucket/key. The object is
// streamed, not buffered.
type ObjectSource struct {
	bucket string
	key    string
	client storage.GetObjectAPIClient
}

var _ loader.Source = (*ObjectSource)(nil)

// NewObjectSourceWithClient creates a source using an existing client. This
// is useful to reuse a preconfigured client or to pass a stub in tests.
func NewObjectSourceWithClient(uri string, client storage.GetObjectAPIClient) (*ObjectSource, error) {
	bucket, key, err := storage.ParseS3URI(uri)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConfig, "extract.open", err)
	}
	return &ObjectSource{bucket: bucket, key: key, client: client}, nil
}

// NewObjectSource creates a source with a client configured from the AWS_*
// environment variables.
func NewObjectSource(ctx context.Context, uri string) (*ObjectSource, error) {
	client, err := storage.NewS3Client(ctx)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConfig, "extract.open", err)
	}
	return NewObjectSourceWithClient(uri, client)
}

func (s *ObjectSource) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *ObjectSource) Documents(ctx context.Context) ([]common.DocumentRecord, error) {
	body, err := storage.OpenObject(ctx, s.client, s.bucket, s.key)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConnectivity, "extract.fetch", err)
	}
	defer body.Close()

	return loader.ReadJSONL(ctx, body, s.Name())
}
