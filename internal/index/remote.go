package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/caseloom/caseloom/internal/config"
)

// maxErrorBody caps how much of a failure response lands in an error
// message.
const maxErrorBody = 512

// RemoteClient talks to a retrieval store over HTTP. The store owns URI
// format and lifecycle; this client only relays handles.
type RemoteClient struct {
	client  *http.Client
	baseURL string
}

func NewRemoteClient(cfg config.RetrievalConfig) (*RemoteClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote retrieval mode requires a base_url")
	}
	return &RemoteClient{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

func (c *RemoteClient) EnsureStore(ctx context.Context, caseID string) (string, error) {
	storeID := StoreID(caseID)
	if _, err := c.do(ctx, http.MethodPut, c.storeURL(storeID), nil); err != nil {
		return "", fmt.Errorf("ensure store %s: %w", storeID, err)
	}
	return storeID, nil
}

func (c *RemoteClient) RegisterDocument(ctx context.Context, caseID, documentID, folderPath string) (Handle, error) {
	return c.registerFile(ctx, caseID, documentID, folderPath)
}

func (c *RemoteClient) RegisterSummary(ctx context.Context, caseID, summaryPath string) (Handle, error) {
	return c.registerFile(ctx, caseID, SummaryFileID, summaryPath)
}

func (c *RemoteClient) registerFile(ctx context.Context, caseID, fileID, path string) (Handle, error) {
	storeID, err := c.EnsureStore(ctx, caseID)
	if err != nil {
		return Handle{}, err
	}
	payload := map[string]string{"fileId": fileID, "path": path}
	data, err := c.do(ctx, http.MethodPost, c.storeURL(storeID)+"/files", payload)
	if err != nil {
		return Handle{}, fmt.Errorf("register %s: %w", fileID, err)
	}
	var parsed struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Handle{}, fmt.Errorf("decode register response: %w", err)
	}
	if parsed.URI == "" {
		return Handle{}, fmt.Errorf("retrieval store returned no uri for %s", fileID)
	}
	return Handle{StoreID: storeID, FileURI: parsed.URI}, nil
}

func (c *RemoteClient) Unregister(ctx context.Context, caseID, fileID string) error {
	storeID := StoreID(caseID)
	_, err := c.do(ctx, http.MethodDelete, c.storeURL(storeID)+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", fileID, err)
	}
	return nil
}

func (c *RemoteClient) storeURL(storeID string) string {
	return c.baseURL + "/stores/" + url.PathEscape(storeID)
}

func (c *RemoteClient) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, fmt.Errorf("retrieval store returned %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}
