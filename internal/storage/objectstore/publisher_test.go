package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

type fakeStore struct {
	key  string
	body []byte
	size int64
	ct   string
	err  error
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.key = key
	f.body = data
	f.size = size
	f.ct = contentType
	return nil
}

func (f *fakeStore) Get(context.Context, string) (io.ReadCloser, ObjectInfo, error) {
	return nil, ObjectInfo{}, nil
}

func (f *fakeStore) Stat(context.Context, string) (ObjectInfo, error) {
	return ObjectInfo{}, nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }

func (f *fakeStore) PresignPut(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (f *fakeStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func TestPublishRelease(t *testing.T) {
	store := &fakeStore{}
	publisher, err := NewReleaseBundlePublisher(store)
	if err != nil {
		t.Fatalf("NewReleaseBundlePublisher: %v", err)
	}

	key, err := publisher.PublishRelease(context.Background(), "run-1", []byte("notes"))
	if err != nil {
		t.Fatalf("PublishRelease: %v", err)
	}
	if key != "releases/run-1/bundle.txt" {
		t.Fatalf("key = %q", key)
	}
	if store.key != key {
		t.Fatalf("stored at %q", store.key)
	}
	if !bytes.Equal(store.body, []byte("notes")) || store.size != 5 {
		t.Fatalf("unexpected body: %q size=%d", store.body, store.size)
	}
	if store.ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", store.ct)
	}
}

func TestPublishReleaseValidation(t *testing.T) {
	if _, err := NewReleaseBundlePublisher(nil); err == nil {
		t.Fatalf("nil store accepted")
	}

	publisher, err := NewReleaseBundlePublisher(&fakeStore{})
	if err != nil {
		t.Fatalf("NewReleaseBundlePublisher: %v", err)
	}
	if _, err := publisher.PublishRelease(context.Background(), "", nil); err == nil {
		t.Fatalf("blank run id accepted")
	}
}

func TestBucketStoreValidation(t *testing.T) {
	if _, err := NewBucketStore(nil, "forgeline-releases"); err == nil {
		t.Fatalf("nil client accepted")
	}

	var s *BucketStore
	if _, err := s.Stat(context.Background(), "releases/run-1/bundle.txt"); err == nil {
		t.Fatalf("nil store stat accepted")
	}
	if err := s.Put(context.Background(), "k", bytes.NewReader(nil), 0, ""); err == nil {
		t.Fatalf("nil store put accepted")
	}
	if s.Bucket() != "" {
		t.Fatalf("nil store bucket = %q", s.Bucket())
	}
}
