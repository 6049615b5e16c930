package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data []byte
	info ObjectInfo
}

// MemoryStore keeps objects in memory. Safe for concurrent use.
type MemoryStore struct {
	bucket  string
	objects map[string]memoryObject
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

// Put stores the object.
func (m *MemoryStore) Put(_ context.Context, p string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if err := ValidatePath(p); err != nil {
		return ObjectInfo{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return ObjectInfo{}, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	sum := md5.Sum(data)
	info := ObjectInfo{
		Path:         p,
		Size:         int64(len(data)),
		ContentType:  contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = memoryObject{data: data, info: info}
	return info, nil
}

// Get opens the object.
func (m *MemoryStore) Get(_ context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[p]
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

// Delete removes the object.
func (m *MemoryStore) Delete(_ context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
	return nil
}

// DeleteByPrefix removes every object under prefix.
func (m *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	if err := ValidatePath(prefix); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			delete(m.objects, p)
			n++
		}
	}
	return n, nil
}

// Presign is not supported in memory.
func (m *MemoryStore) Presign(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Bucket returns the bucket name.
func (m *MemoryStore) Bucket() string { return m.bucket }

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
