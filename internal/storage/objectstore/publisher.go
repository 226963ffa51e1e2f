package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// ReleaseBundlePublisher writes release bundles under releases/<run-id>
// in the releases bucket its store is bound to.
type ReleaseBundlePublisher struct {
	store Store
}

func NewReleaseBundlePublisher(store Store) (*ReleaseBundlePublisher, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &ReleaseBundlePublisher{store: store}, nil
}

func ReleaseBundleKey(runID string) string {
	return fmt.Sprintf("releases/%s/bundle.txt", runID)
}

func (p *ReleaseBundlePublisher) PublishRelease(ctx context.Context, runID string, bundle []byte) (string, error) {
	if p == nil || p.store == nil {
		return "", fmt.Errorf("release publisher not initialized")
	}
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	key := ReleaseBundleKey(runID)
	err := p.store.Put(ctx, key, bytes.NewReader(bundle), int64(len(bundle)), "text/plain; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("put release bundle: %w", err)
	}
	return key, nil
}
