package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type stubClient struct {
	body   string
	err    error
	bucket string
	key    string
}

func (c *stubClient) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.bucket = aws.ToString(in.Bucket)
	c.key = aws.ToString(in.Key)
	if c.err != nil {
		return nil, c.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(c.body))}, nil
}

func TestObjectSource(t *testing.T) {
	client := &stubClient{body: `{"id":"p1","embedding_text":"one","content_hash":"h1"}` + "\n"}
	src, err := NewObjectSourceWithClient("s3://exports/daily/posts.jsonl", client)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	docs, err := src.Documents(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "p1" {
		t.Fatalf("expected p1, got %+v", docs)
	}
	if client.bucket != "exports" || client.key != "daily/posts.jsonl" {
		t.Fatalf("expected exports/daily/posts.jsonl, got %s/%s", client.bucket, client.key)
	}
	if src.Name() != "s3://exports/daily/posts.jsonl" {
		t.Fatalf("unexpected name %s", src.Name())
	}
}

func TestObjectSource_Errors(t *testing.T) {
	if _, err := NewObjectSourceWithClient("s3://bucket-only", &stubClient{}); !ingesterr.IsKind(err, ingesterr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}

	src, _ := NewObjectSourceWithClient("s3://b/k", &stubClient{err: errors.New("no such key")})
	if _, err := src.Documents(context.Background()); !ingesterr.IsKind(err, ingesterr.KindConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}
