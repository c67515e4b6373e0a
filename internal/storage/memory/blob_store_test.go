package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStoreObjectReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "crawls/a.tsv", "text/plain", bytes.NewReader([]byte("content")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://crawls/a.tsv" {
		t.Fatalf("unexpected uri %s", uri)
	}
	got, ok := store.Object("crawls/a.tsv")
	if !ok || string(got) != "content" {
		t.Fatalf("unexpected object %q", got)
	}
	got[0] = 'C'
	again, _ := store.Object("crawls/a.tsv")
	if string(again) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
