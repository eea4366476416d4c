package worker

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// SourceHeader 标记响应来源，便于排查离线行为。
const SourceHeader = "X-Meteo-Source"

const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceShell   = "shell"
	SourceOffline = "offline"
)

func offlineJSON(req *http.Request, message string) *http.Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return syntheticResponse(req, http.StatusServiceUnavailable, "application/json", body)
}

func unavailableText(req *http.Request, message string) *http.Response {
	return syntheticResponse(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(message))
}

func syntheticResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set(SourceHeader, SourceOffline)
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func markSource(resp *http.Response, source string) *http.Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(SourceHeader, source)
	return resp
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// storable 判断回源响应能否按 URL 写入缓存桶：部分内容（206 或带 Range 的请求）不入桶。
func storable(req *http.Request, resp *http.Response) bool {
	if !isOK(resp.StatusCode) || resp.StatusCode == http.StatusPartialContent {
		return false
	}
	return req.Header.Get("Range") == ""
}
