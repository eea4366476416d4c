package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Storage 管理一组命名缓存桶。Open 不存在时创建；Names 按名称排序返回。
type Storage interface {
	Open(ctx context.Context, name string) (Bucket, error)
	// Lookup 只读地打开已存在的桶，不存在时返回 ErrNotFound，不会创建。
	Lookup(ctx context.Context, name string) (Bucket, error)
	Has(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
	// Delete 删除整个桶，返回桶此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

// Bucket 是单个版本的 URL → 响应映射。
type Bucket interface {
	Name() string
	// Match 返回 URL 对应的条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, url string) (*Entry, error)
	// Put 覆盖写入条目，同一 URL 的并发写入以最后一次为准。
	Put(ctx context.Context, entry Entry) error
	// Keys 返回桶内所有 URL，按字典序排序。
	Keys(ctx context.Context) ([]string, error)
}

// Entry 是一条缓存下来的完整响应。
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidBucket 表示桶名称为空或包含路径字符。
var ErrInvalidBucket = errors.New("invalid bucket name")

// Key 将请求 URL 规范化为缓存键：去掉 fragment，其余部分保持原样。
func Key(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}

// EntryFromResponse 读取完整正文并生成缓存条目，同时把 resp.Body 替换为可再次读取的副本。
func EntryFromResponse(key string, resp *http.Response) (Entry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Entry{}, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	return Entry{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// Response 将条目还原为 http.Response，每次调用都会得到独立的 Body 与 Header。
func (e Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func cloneEntry(e Entry) Entry {
	e.Header = e.Header.Clone()
	e.Body = append([]byte(nil), e.Body...)
	return e
}

func validBucketName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return false
		}
	}
	return true
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
