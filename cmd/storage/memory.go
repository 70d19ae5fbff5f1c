package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// UploadCall records one call made to a MemoryUploader
type UploadCall struct {
	LocalPath string
	Bucket    string
	Key       string
	Size      int
}

// MemoryUploader keeps uploaded objects in memory. It is used by tests and
// by dry runs. Setting Err makes every upload fail with it.
type MemoryUploader struct {
	mu      sync.Mutex
	calls   []UploadCall
	objects map[string][]byte
	Err     error
}

// NewMemoryUploader creates an empty in-memory uploader
func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: make(map[string][]byte)}
}

// Upload reads localPath fully and stores it under bucket/key
func (m *MemoryUploader) Upload(ctx context.Context, localPath, bucket, key string) error {
	if err := checkTarget(bucket, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		m.calls = append(m.calls, UploadCall{LocalPath: localPath, Bucket: bucket, Key: key})
		return fmt.Errorf("%w: %w", ErrUpload, m.Err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: failed to read artifact: %w", ErrUpload, err)
	}

	m.calls = append(m.calls, UploadCall{LocalPath: localPath, Bucket: bucket, Key: key, Size: len(data)})
	m.objects[bucket+"/"+key] = data
	return nil
}

// Calls returns a copy of every upload attempt in order
func (m *MemoryUploader) Calls() []UploadCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]UploadCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Object returns the stored bytes for bucket/key
func (m *MemoryUploader) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

// Keys returns the number of distinct objects stored
func (m *MemoryUploader) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
