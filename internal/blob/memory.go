package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrObjectNotFound is returned by Get when no object exists under the key.
var ErrObjectNotFound = errors.New("blob: object not found")

// MemoryStore is an in-process Store used in tests and local-only deployments
// where no S3 endpoint is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	bucket        string
	objects       map[string]memoryObject
	seq           int
	presignExpiry time.Duration
}

type memoryObject struct {
	data        []byte
	contentType string
	versionID   string
}

// NewMemoryStore creates an empty store presenting itself as bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:        bucket,
		objects:       make(map[string]memoryObject),
		presignExpiry: time.Hour,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("read object body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return PutResult{}, fmt.Errorf("object body is %d bytes, expected %d", len(data), size)
	}

	s.mu.Lock()
	s.seq++
	version := strconv.Itoa(s.seq)
	s.objects[key] = memoryObject{data: data, contentType: contentType, versionID: version}
	s.mu.Unlock()

	return PutResult{
		Key:        key,
		Bucket:     s.bucket,
		VersionID:  version,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get object %q: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) RemovePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *MemoryStore) PresignGet(ctx context.Context, key string, opts PresignOptions) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("presign object %q: %w", key, ErrObjectNotFound)
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = s.presignExpiry
	}
	q := make(url.Values)
	q.Set("X-Expires", strconv.Itoa(int(expiry.Seconds())))
	if cd := contentDisposition(opts); cd != "" {
		q.Set("response-content-disposition", cd)
	}
	u := url.URL{
		Scheme:   "https",
		Host:     "blob.invalid",
		Path:     "/" + s.bucket + "/" + key,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// Keys returns every stored key in sorted order. Test helper.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
