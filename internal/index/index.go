// Package index registers case artifacts with the external retrieval
// search store. One store exists per case; its id derives from the case id
// so registration needs no store lookup. File URIs returned by the store
// are opaque handles recorded verbatim in the catalog.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/caseloom/caseloom/internal/config"
)

// ErrNotFound reports that the store has no record of the artifact.
// Unregister callers treat it as already-done.
var ErrNotFound = errors.New("retrieval store: not found")

// SummaryFileID is the fixed per-case handle under which the case summary
// registers.
const SummaryFileID = "case-summary"

// Handle references one registered artifact.
type Handle struct {
	StoreID string
	FileURI string
}

// Client registers and unregisters case artifacts.
type Client interface {
	// EnsureStore makes the per-case store exist and returns its id.
	EnsureStore(ctx context.Context, caseID string) (string, error)
	// RegisterDocument indexes one extracted document folder.
	RegisterDocument(ctx context.Context, caseID, documentID, folderPath string) (Handle, error)
	// RegisterSummary indexes the case summary artifact.
	RegisterSummary(ctx context.Context, caseID, summaryPath string) (Handle, error)
	// Unregister removes one artifact. Missing artifacts yield ErrNotFound.
	Unregister(ctx context.Context, caseID, fileID string) error
}

// StoreID derives the per-case store id.
func StoreID(caseID string) string {
	return "store-" + caseID
}

// New selects the client for the configured mode.
func New(cfg config.RetrievalConfig) (Client, error) {
	switch cfg.Mode {
	case config.RetrievalSynthetic, "":
		return NewSyntheticClient(), nil
	case config.RetrievalRemote:
		return NewRemoteClient(cfg)
	default:
		return nil, fmt.Errorf("unknown retrieval mode %q", cfg.Mode)
	}
}
