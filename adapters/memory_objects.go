package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/repositories"
)

type storedObject struct {
	data        []byte
	contentType string
}

// MemoryObjectStore is the object storage behind the development backend's
// presigned uploads
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]storedObject
}

var _ repositories.ObjectStore = (*MemoryObjectStore)(nil)

// NewMemoryObjectStore creates an empty object store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]storedObject)}
}

// Put stores a copy of data under key, replacing any previous object
func (s *MemoryObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storedObject{data: buf, contentType: contentType}
	return nil
}

// Get returns the object's data and content type
func (s *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrObjectNotFound, key)
	}
	return obj.data, obj.contentType, nil
}

// Delete removes an object; deleting a missing key is not an error
func (s *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
