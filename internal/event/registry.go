package event

import (
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// HandlerFunc 处理单个事件。返回错误或 panic 都只影响本次调用。
type HandlerFunc func(Event) error

// Subscription 是订阅凭证，用于退订和日志中标识 handler。
type Subscription struct {
	ID   uint64
	Type string
	Name string
	fn   HandlerFunc
}

func (s Subscription) String() string {
	return s.Name + "#" + strconv.FormatUint(s.ID, 10)
}

// registry 一旦发布就不再修改；写操作复制出新实例再整体替换。
type registry struct {
	byType  map[string][]Subscription
	general []Subscription
}

func emptyRegistry() *registry {
	return &registry{byType: map[string][]Subscription{}}
}

func (r *registry) clone() *registry {
	next := &registry{
		byType:  make(map[string][]Subscription, len(r.byType)),
		general: append([]Subscription(nil), r.general...),
	}
	for typ, subs := range r.byType {
		next.byType[typ] = append([]Subscription(nil), subs...)
	}
	return next
}

func (r *registry) add(sub Subscription) *registry {
	next := r.clone()
	if sub.Type == "" {
		next.general = append(next.general, sub)
	} else {
		next.byType[sub.Type] = append(next.byType[sub.Type], sub)
	}
	return next
}

// remove returns nil when sub is not registered.
func (r *registry) remove(sub Subscription) *registry {
	list := r.general
	if sub.Type != "" {
		list = r.byType[sub.Type]
	}
	idx := -1
	for i, s := range list {
		if s.ID == sub.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	next := r.clone()
	if sub.Type == "" {
		next.general = append(next.general[:idx], next.general[idx+1:]...)
		return next
	}
	rest := append(next.byType[sub.Type][:idx], next.byType[sub.Type][idx+1:]...)
	if len(rest) == 0 {
		delete(next.byType, sub.Type)
	} else {
		next.byType[sub.Type] = rest
	}
	return next
}

func (r *registry) count() int {
	n := len(r.general)
	for _, subs := range r.byType {
		n += len(subs)
	}
	return n
}

func handlerName(fn HandlerFunc) string {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return "anonymous"
	}
	return name
}
