package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewStore 以 basePath 为根目录构建磁盘存储，每个桶对应一个子目录，整站复用一份实例。
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 URL 并发写入时 body/meta 交错。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileBucket struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, name string) (Bucket, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return &fileBucket{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Lookup(ctx context.Context, name string) (Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return nil, err
	}
	return &fileBucket{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && !strings.HasPrefix(item.Name(), ".") {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	existed, err := s.Has(ctx, name)
	if err != nil || !existed {
		return false, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return false, err
	}
	// 先改名再删除，避免删除过程中 Open 拿到半空目录。
	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, "bucket")
	if err := os.Rename(dir, target); err != nil {
		os.RemoveAll(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) bucketDir(name string) (string, error) {
	if !validBucketName(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidBucket
	}
	return filepath.Join(s.basePath, name), nil
}

func (b *fileBucket) Name() string {
	return b.name
}

func (b *fileBucket) Match(ctx context.Context, url string) (*Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	// 与 Put 共用条目锁，避免读到旧 meta 配新 body。
	unlock := b.store.lockEntry(b.name, url)
	defer unlock()
	base := b.entryPath(url)

	meta, err := os.ReadFile(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(meta, &entry); err != nil {
		return nil, fmt.Errorf("decode cache meta: %w", err)
	}
	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry.Body = body
	return &entry, nil
}

// Put 先写 body 再写 meta，两者都通过临时文件 + rename 落盘；meta 存在即视为条目完整。
func (b *fileBucket) Put(ctx context.Context, entry Entry) error {
	unlock := b.store.lockEntry(b.name, entry.URL)
	defer unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	base := b.entryPath(entry.URL)

	meta, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := writeAtomic(ctx, base+bodySuffix, bytes.NewReader(entry.Body)); err != nil {
		return err
	}
	return writeAtomic(ctx, base+metaSuffix, bytes.NewReader(meta))
}

func (b *fileBucket) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(b.dir, item.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		keys = append(keys, entry.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *fileBucket) entryPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:]))
}

func (s *fileStore) lockEntry(bucket, url string) func() {
	key := bucket + "::" + url
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func writeAtomic(ctx context.Context, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
