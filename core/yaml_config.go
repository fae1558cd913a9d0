package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// YAMLConfigLoader reads raw configuration from a YAML file or buffer.
type YAMLConfigLoader struct {
	Path string
	Data []byte
}

func NewYAMLConfigLoader(path string) *YAMLConfigLoader {
	return &YAMLConfigLoader{Path: strings.TrimSpace(path)}
}

func (l *YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil {
		return map[string]any{}, nil
	}
	data := l.Data
	if len(data) == 0 && l.Path != "" {
		read, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, fmt.Errorf("core: read config %q: %w", l.Path, err)
		}
		data = read
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	raw := map[any]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: invalid yaml config: %w", err)
	}
	out, ok := normalizeYAMLValue(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("core: invalid yaml config: top level must be a mapping")
	}
	return out, nil
}

// normalizeYAMLValue rewrites yaml.v2 interface-keyed maps into string-keyed
// maps.
func normalizeYAMLValue(value any) any {
	switch typed := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeYAMLValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeYAMLValue(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeYAMLValue(item))
		}
		return out
	default:
		return value
	}
}

var _ RawConfigLoader = (*YAMLConfigLoader)(nil)
