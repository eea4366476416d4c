package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStorage 返回进程内存储，进程退出即丢失，适合测试与 StorageBackend=memory。
func NewMemoryStorage() Storage {
	return &memoryStorage{buckets: make(map[string]*memoryBucket)}
}

type memoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	name string

	mu      sync.RWMutex
	entries map[string]Entry
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if !validBucketName(name) {
		return nil, ErrInvalidBucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[name]
	if !ok {
		bucket = &memoryBucket{name: name, entries: make(map[string]Entry)}
		s.buckets[name] = bucket
	}
	return bucket, nil
}

func (s *memoryStorage) Lookup(ctx context.Context, name string) (Bucket, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.buckets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return bucket, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	delete(s.buckets, name)
	return ok, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) Match(ctx context.Context, url string) (*Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	entry, ok := b.entries[url]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cloned := cloneEntry(entry)
	return &cloned, nil
}

func (b *memoryBucket) Put(ctx context.Context, entry Entry) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.entries[entry.URL] = cloneEntry(entry)
	b.mu.Unlock()
	return nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
