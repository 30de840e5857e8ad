// Package settings 管理各网关的连接参数文件，支持热加载与按场所 schema 校验。
package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tradehub/internal/gateway"
	"tradehub/internal/logger"
)

// FileConfig 映射 gateways 段。
type FileConfig struct {
	Gateways map[string]map[string]any `yaml:"gateways"`
}

// Snapshot 是某一时刻的全部连接参数。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Gateways map[string]gateway.Settings
}

// Names 按名称排序。
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Gateways))
	for name := range s.Gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在文件重载成功后触发。
type ChangeListener func(Snapshot)

// Registry 读取连接参数文件并监听修改。校验失败的重载会被丢弃，保留旧快照。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	schemas   map[string]*jsonschema.Schema
	listeners []ChangeListener
	closed    bool
}

// NewRegistry 读取 path。watch 为真时通过 fsnotify 热加载。
func NewRegistry(path string, watch bool) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings registry requires path")
	}
	r := &Registry{path: path, schemas: make(map[string]*jsonschema.Schema)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				return
			}
			if r.isClosed() {
				return
			}
			// 编辑器先截断再写入，空文件视为中间状态
			if info, err := os.Stat(path); err == nil && info.Size() == 0 {
				return
			}
			if err := r.Reload(); err != nil {
				logger.Errorf("gateway settings reload failed: %v", err)
			}
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// Bind 登记网关的 schema 并立即校验已有参数。
func (r *Registry) Bind(name, rawSchema string) error {
	schema, err := gateway.CompileSchema(rawSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.snapshot.Gateways[name]; ok {
		if err := gateway.ValidateAgainst(schema, s); err != nil {
			return fmt.Errorf("settings for %s: %w", name, err)
		}
	}
	r.schemas[name] = schema
	return nil
}

// Get 返回名为 name 的网关参数拷贝。
func (r *Registry) Get(name string) (gateway.Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshot.Gateways[name]
	if !ok {
		return nil, false
	}
	return cloneSettings(s), true
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Reload 重新读取文件；首次加载之外的成功重载会通知监听者。
func (r *Registry) Reload() error {
	cfg, err := readFile(r.path)
	if err != nil {
		return err
	}
	next := make(map[string]gateway.Settings, len(cfg.Gateways))
	for name, block := range cfg.Gateways {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("settings: empty gateway name")
		}
		next[name] = gateway.Settings(block)
	}

	r.mu.Lock()
	for name, schema := range r.schemas {
		s, ok := next[name]
		if !ok {
			continue
		}
		if err := gateway.ValidateAgainst(schema, s); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("settings for %s: %w", name, err)
		}
	}
	first := r.snapshot.Version == 0
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Gateways: next,
	}
	r.mu.Unlock()
	logger.Infof("gateway settings loaded %d entries from %s", len(next), filepath.Base(r.path))
	if !first {
		r.notifyListeners()
	}
	return nil
}

// Close 之后文件变化不再生效。
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.listeners = nil
	r.mu.Unlock()
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("settings listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func readFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read settings file failed: %w", err)
	}
	var cfg FileConfig
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse settings file failed: %w", err)
	}
	return cfg, nil
}

func cloneSettings(src gateway.Settings) gateway.Settings {
	dst := make(gateway.Settings, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Gateways: make(map[string]gateway.Settings, len(src.Gateways)),
	}
	for name, s := range src.Gateways {
		dst.Gateways[name] = cloneSettings(s)
	}
	return dst
}
