package index

import (
	"context"
	"fmt"
	"sync"
)

// SyntheticClient computes handles locally with no backing service. It
// keeps an in-memory registry so unregistering something never registered
// still reports ErrNotFound the way a real store would.
type SyntheticClient struct {
	mu     sync.Mutex
	stores map[string]map[string]string // storeID -> fileID -> uri
}

func NewSyntheticClient() *SyntheticClient {
	return &SyntheticClient{stores: make(map[string]map[string]string)}
}

func (c *SyntheticClient) EnsureStore(ctx context.Context, caseID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	storeID := StoreID(caseID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.stores[storeID]; !ok {
		c.stores[storeID] = make(map[string]string)
	}
	return storeID, nil
}

func (c *SyntheticClient) register(ctx context.Context, caseID, fileID string) (Handle, error) {
	storeID, err := c.EnsureStore(ctx, caseID)
	if err != nil {
		return Handle{}, err
	}
	uri := fmt.Sprintf("filesearch://%s/%s", storeID, fileID)
	c.mu.Lock()
	c.stores[storeID][fileID] = uri
	c.mu.Unlock()
	return Handle{StoreID: storeID, FileURI: uri}, nil
}

func (c *SyntheticClient) RegisterDocument(ctx context.Context, caseID, documentID, folderPath string) (Handle, error) {
	return c.register(ctx, caseID, documentID)
}

func (c *SyntheticClient) RegisterSummary(ctx context.Context, caseID, summaryPath string) (Handle, error) {
	return c.register(ctx, caseID, SummaryFileID)
}

func (c *SyntheticClient) Unregister(ctx context.Context, caseID, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	storeID := StoreID(caseID)
	c.mu.Lock()
	defer c.mu.Unlock()
	files, ok := c.stores[storeID]
	if !ok {
		return fmt.Errorf("unregister %s: %w", fileID, ErrNotFound)
	}
	if _, ok := files[fileID]; !ok {
		return fmt.Errorf("unregister %s: %w", fileID, ErrNotFound)
	}
	delete(files, fileID)
	return nil
}

// Registered reports whether the store currently holds the artifact.
func (c *SyntheticClient) Registered(caseID, fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, ok := c.stores[StoreID(caseID)]
	if !ok {
		return false
	}
	_, ok = files[fileID]
	return ok
}
