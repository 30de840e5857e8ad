// Package config 加载 tradehub 的 YAML 配置：支持 include 合并、默认值与校验。
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "TRADEHUB_CONFIG"
	DefaultConfigPath = "configs/config.yaml"
)

// Path 返回 TRADEHUB_CONFIG 或默认路径。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load 读取 path 及其 include 链，按顺序合并（后者覆盖前者）。
func Load(path string) (*Config, error) {
	files, err := resolveIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	flattenKeys("", v.AllSettings(), keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dump 以 YAML 输出生效配置。
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func mergeFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	settings := tmp.AllSettings()
	delete(settings, "include")
	return v.MergeConfigMap(settings)
}

func resolveIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := includeResolver{seen: map[string]bool{}, stack: map[string]bool{}}
	if err := r.walk(abs); err != nil {
		return nil, err
	}
	return r.ordered, nil
}

// includeResolver 深度优先展开 include，被包含文件排在包含者之前。
type includeResolver struct {
	seen    map[string]bool
	stack   map[string]bool
	ordered []string
}

func (r *includeResolver) walk(path string) error {
	path = filepath.Clean(path)
	if r.stack[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.seen[path] {
		return nil
	}
	r.stack[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.walk(inc); err != nil {
			return err
		}
	}
	delete(r.stack, path)
	r.seen[path] = true
	r.ordered = append(r.ordered, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	var items []string
	switch val := raw.(type) {
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			items = append(items, str)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := items[:0:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func flattenKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenKeys(next, child, dest)
		}
	default:
		// 列表与标量都只记录自身路径
		dest.mark(prefix)
	}
}
