package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/config"
)

func TestStoreIDIsDeterministic(t *testing.T) {
	assert.Equal(t, "store-case-9", StoreID("case-9"))
	assert.Equal(t, StoreID("case-9"), StoreID("case-9"))
}

func TestNewSelectsMode(t *testing.T) {
	c, err := New(config.RetrievalConfig{Mode: config.RetrievalSynthetic})
	require.NoError(t, err)
	assert.IsType(t, &SyntheticClient{}, c)

	c, err = New(config.RetrievalConfig{Mode: config.RetrievalRemote, BaseURL: "http://retrieval.local"})
	require.NoError(t, err)
	assert.IsType(t, &RemoteClient{}, c)

	_, err = New(config.RetrievalConfig{Mode: config.RetrievalRemote})
	require.Error(t, err)
}

func TestSyntheticRegisterAndUnregister(t *testing.T) {
	c := NewSyntheticClient()
	ctx := context.Background()

	h, err := c.RegisterDocument(ctx, "case-1", "doc-1", "/ws/case-1/documents/motion")
	require.NoError(t, err)
	assert.Equal(t, "store-case-1", h.StoreID)
	assert.Equal(t, "filesearch://store-case-1/doc-1", h.FileURI)
	assert.True(t, c.Registered("case-1", "doc-1"))

	require.NoError(t, c.Unregister(ctx, "case-1", "doc-1"))
	assert.False(t, c.Registered("case-1", "doc-1"))

	err = c.Unregister(ctx, "case-1", "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Unregister(ctx, "case-never-seen", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyntheticRegisterSummary(t *testing.T) {
	c := NewSyntheticClient()

	h, err := c.RegisterSummary(context.Background(), "case-7", "/ws/case-7/case-context/case_summary.md")
	require.NoError(t, err)
	assert.Equal(t, "filesearch://store-case-7/case-summary", h.FileURI)

	// Re-registering replaces the handle rather than erroring.
	again, err := c.RegisterSummary(context.Background(), "case-7", "/ws/case-7/case-context/case_summary.md")
	require.NoError(t, err)
	assert.Equal(t, h.FileURI, again.FileURI)
}

func TestRemoteRegisterDocument(t *testing.T) {
	var ensured, registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/stores/store-case-3":
			ensured = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/stores/store-case-3/files":
			registered = true
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "doc-3", body["fileId"])
			assert.Equal(t, "/ws/case-3/documents/order", body["path"])
			_, _ = w.Write([]byte(`{"uri": "rs://abc123"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c, err := NewRemoteClient(config.RetrievalConfig{Mode: config.RetrievalRemote, BaseURL: srv.URL})
	require.NoError(t, err)

	h, err := c.RegisterDocument(context.Background(), "case-3", "doc-3", "/ws/case-3/documents/order")
	require.NoError(t, err)
	assert.True(t, ensured)
	assert.True(t, registered)
	assert.Equal(t, "store-case-3", h.StoreID)
	assert.Equal(t, "rs://abc123", h.FileURI)
}

func TestRemoteUnregisterMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewRemoteClient(config.RetrievalConfig{Mode: config.RetrievalRemote, BaseURL: srv.URL})
	require.NoError(t, err)

	err = c.Unregister(context.Background(), "case-3", "doc-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("store shard down"))
	}))
	defer srv.Close()

	c, err := NewRemoteClient(config.RetrievalConfig{Mode: config.RetrievalRemote, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.RegisterDocument(context.Background(), "case-3", "doc-3", "/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "store shard down")
}

func TestRemoteRejectsEmptyURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewRemoteClient(config.RetrievalConfig{Mode: config.RetrievalRemote, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.RegisterDocument(context.Background(), "case-3", "doc-3", "/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no uri")
}
