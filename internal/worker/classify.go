package worker

import (
	"net/url"
	"strings"
)

// Class 是请求分类。
type Class string

const (
	ClassStatic Class = "static-asset"
	ClassAPI    Class = "api-call"
)

// Classifier 按主机名是否包含任一模式判定 API 请求，其余都视为静态资源。
type Classifier struct {
	patterns []string
}

func NewClassifier(patterns []string) Classifier {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return Classifier{patterns: cleaned}
}

func (c Classifier) Classify(u *url.URL) Class {
	if u == nil {
		return ClassStatic
	}
	if c.IsAPIHost(u.Hostname()) {
		return ClassAPI
	}
	return ClassStatic
}

// IsAPIHost 判断主机名是否命中 API 模式。
func (c Classifier) IsAPIHost(host string) bool {
	host = strings.ToLower(host)
	for _, p := range c.patterns {
		if strings.Contains(host, p) {
			return true
		}
	}
	return false
}
