package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileSchema 编译场所的连接参数 schema；空字符串表示不校验。
func CompileSchema(raw string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("settings.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("settings.json")
}

// ValidateAgainst 先经 JSON 往返归一化（YAML 解出的 int、map[any]any 等），再校验。
func ValidateAgainst(schema *jsonschema.Schema, settings Settings) error {
	if schema == nil {
		return nil
	}
	if settings == nil {
		settings = Settings{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return schema.Validate(doc)
}

// String 从 settings 读取字符串参数，缺省返回空串。
func (s Settings) String(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Bool 接受 bool 或 "true"/"false" 字符串。
func (s Settings) Bool(key string) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
