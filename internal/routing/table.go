// Package routing 提供网关的权威路由表。
// 路由表是 (path, method) 到计算单元及响应契约的映射，在部署时确定，运行期间不可变。
package routing

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/oriys/paygate/internal/domain"
)

// Table 是路由表。
// 每次注册都会深拷贝路由，注册之间没有共享的可变状态；
// 新增路由不会改变已有路由的绑定。
type Table struct {
	mu     sync.RWMutex
	routes map[string]domain.Route     // "METHOD path" -> route
	paths  map[string]map[string]bool // path -> methods
}

// NewTable 创建路由表并注册给定路由。
func NewTable(routes ...domain.Route) (*Table, error) {
	t := &Table{
		routes: make(map[string]domain.Route),
		paths:  make(map[string]map[string]bool),
	}
	for _, r := range routes {
		if err := t.Add(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add 注册一条路由。
// (path, method) 重复时返回 ErrDuplicateRoute；声明的状态缺少 CORS 头时返回 ErrRouteMissingCORS。
func (t *Table) Add(route domain.Route) error {
	r := route.Clone()
	r.Method = strings.ToUpper(r.Method)
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%s: %w", r.Key(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := r.Key()
	if _, exists := t.routes[key]; exists {
		return fmt.Errorf("%s: %w", key, domain.ErrDuplicateRoute)
	}
	t.routes[key] = r
	if t.paths[r.Path] == nil {
		t.paths[r.Path] = make(map[string]bool)
	}
	t.paths[r.Path][r.Method] = true
	return nil
}

// Resolve 将 (path, method) 解析为唯一的路由。
// 路径未知返回 ErrNoRoute；路径已知但方法不匹配返回 ErrMethodNotAllowed。
// OPTIONS 不在此解析，由 CORS 预检处理（见 HasPath）。
func (t *Table) Resolve(path, method string) (domain.Route, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.routes[strings.ToUpper(method)+" "+path]; ok {
		return r.Clone(), nil
	}
	if _, ok := t.paths[path]; ok {
		return domain.Route{}, domain.ErrMethodNotAllowed
	}
	return domain.Route{}, domain.ErrNoRoute
}

// HasPath 检查路径是否存在于路由表中。
func (t *Table) HasPath(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.paths[path]
	return ok
}

// Paths 返回所有路径（升序）。
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.paths))
	for p := range t.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Methods 返回路径上注册的方法（含预检用的 OPTIONS，升序）。
func (t *Table) Methods(path string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	methods := t.paths[path]
	if len(methods) == 0 {
		return nil
	}
	out := []string{http.MethodOptions}
	for m := range methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Routes 返回所有路由的拷贝，按路径、方法排序。
func (t *Table) Routes() []domain.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Len 返回路由数量。
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
