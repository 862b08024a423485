package storage

import "testing"

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		key    string
		ok     bool
	}{
		{uri: "s3://exports/posts/2024.jsonl", bucket: "exports", key: "posts/2024.jsonl", ok: true},
		{uri: "s3://exports/posts.jsonl", bucket: "exports", key: "posts.jsonl", ok: true},
		{uri: "s3://exports/", ok: false},
		{uri: "s3:///posts.jsonl", ok: false},
		{uri: "https://exports/posts.jsonl", ok: false},
	}

	for _, tt := range tests {
		bucket, key, err := ParseS3URI(tt.uri)
		if tt.ok != (err == nil) {
			t.Fatalf("%s: expected ok=%v, got %v", tt.uri, tt.ok, err)
		}
		if bucket != tt.bucket || key != tt.key {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tt.uri, tt.bucket, tt.key, bucket, key)
		}
	}
}
