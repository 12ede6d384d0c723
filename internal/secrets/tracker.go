package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// minTrackedLen 过短的值不参与泄漏检测，避免误报
const minTrackedLen = 4

type trackerKey struct{}

// Tracker 记录一次调用中解析出的全部凭据值，用于在响应发出前检测泄漏。
// 生命周期与单次调用相同，不跨请求共享。
type Tracker struct {
	mu     sync.Mutex
	count  int
	values [][]byte
}

// WithTracker 返回携带新 Tracker 的上下文。
func WithTracker(ctx context.Context) (context.Context, *Tracker) {
	t := &Tracker{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

// TrackerFrom 从上下文中取出 Tracker，没有时返回 nil。
func TrackerFrom(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// Add 登记凭据值，同时登记它在 JSON 字符串中的转义形式。
func (t *Tracker) Add(values ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range values {
		if len(v) < minTrackedLen {
			continue
		}
		t.count++
		t.values = append(t.values, encodedForms(v)...)
	}
}

// Len 返回登记的凭据值数量。
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// encodedForms 返回 v 的原文以及 json.Marshal 转义后的形式（去掉两侧引号）。
// 开启和关闭 HTML 转义的两种编码都要匹配，去重后返回。
func encodedForms(v string) [][]byte {
	forms := [][]byte{[]byte(v)}
	add := func(b []byte) {
		b = bytes.TrimSuffix(b, []byte("\n"))
		if len(b) < 2 {
			return
		}
		b = b[1 : len(b)-1]
		for _, f := range forms {
			if bytes.Equal(f, b) {
				return
			}
		}
		forms = append(forms, b)
	}
	if b, err := json.Marshal(v); err == nil {
		add(b)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if enc.Encode(v) == nil {
		add(buf.Bytes())
	}
	return forms
}

// Exposed 检查响应体或响应头中是否出现了任何登记的凭据值。
func (t *Tracker) Exposed(body []byte, headers http.Header) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.values {
		if bytes.Contains(body, v) {
			return true
		}
		for name, vals := range headers {
			if bytes.Contains([]byte(name), v) {
				return true
			}
			for _, hv := range vals {
				if bytes.Contains([]byte(hv), v) {
					return true
				}
			}
		}
	}
	return false
}
