package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/registry-monitor/internal/model"
	"github.com/t77yq/registry-monitor/internal/registry"
)

type rawPathConfig struct {
	Children      interface{}            `yaml:"children"`
	CancelTimeout interface{}            `yaml:"cancel_timeout"`
	Alerter       map[string]interface{} `yaml:"alerter"`
}

// LoadPaths reads the path file. An empty file name or an empty file yields
// no paths.
func LoadPaths(file string, logger *zap.Logger) (map[string]model.PathConfig, error) {
	if file == "" {
		logger.Warn("No path file configured, nothing will be monitored")
		return map[string]model.PathConfig{}, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read path file: %w", err)
	}
	return ParsePaths(data, logger)
}

// ParsePaths decodes a YAML path document keyed by registry path
func ParsePaths(data []byte, logger *zap.Logger) (map[string]model.PathConfig, error) {
	paths := make(map[string]model.PathConfig)
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Path file is empty, nothing will be monitored")
		return paths, nil
	}

	var raw map[string]*rawPathConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse path file: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key, err := registry.KeyFor(name)
		if err != nil {
			return nil, &InvalidConfigError{Path: name, Reason: err.Error()}
		}
		path := registry.PathFor(key)
		if _, dup := paths[path]; dup {
			return nil, &InvalidConfigError{Path: name, Reason: "path listed twice"}
		}

		cfg, err := buildPathConfig(path, raw[name], logger)
		if err != nil {
			return nil, err
		}
		paths[path] = cfg
	}

	logger.Info("Loaded path configuration", zap.Int("paths", len(paths)))
	return paths, nil
}

func buildPathConfig(path string, raw *rawPathConfig, logger *zap.Logger) (model.PathConfig, error) {
	var cfg model.PathConfig
	if raw == nil {
		return cfg, nil
	}

	if raw.Children != nil {
		n, ok := raw.Children.(int)
		if !ok {
			return cfg, &InvalidConfigError{
				Path:   path,
				Reason: fmt.Sprintf("invalid children setting: %v", raw.Children),
			}
		}
		cfg.Children = &n
	}

	cfg.CancelTimeout = cancelTimeout(path, raw.CancelTimeout, logger)

	if len(raw.Alerter) > 0 {
		cfg.Alerter = make(map[string]model.Params, len(raw.Alerter))
		for backend, v := range raw.Alerter {
			params, err := flattenParams(v)
			if err != nil {
				return cfg, &InvalidConfigError{
					Path:   path,
					Reason: fmt.Sprintf("alerter %s: %v", backend, err),
				}
			}
			cfg.Alerter[backend] = params
		}
	}

	return cfg, nil
}

// cancelTimeout accepts seconds as a number or numeric string; anything
// else means no delay
func cancelTimeout(path string, v interface{}, logger *zap.Logger) time.Duration {
	if v == nil {
		return 0
	}

	seconds, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		logger.Warn("Invalid cancel_timeout, using 0",
			zap.String("path", path),
			zap.Any("cancel_timeout", v))
		return 0
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// flattenParams accepts a mapping or a list of single-key mappings
func flattenParams(v interface{}) (model.Params, error) {
	params := model.Params{}

	switch val := v.(type) {
	case nil:
	case map[string]interface{}:
		for k, pv := range val {
			s, err := cast.ToStringE(pv)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", k, err)
			}
			params[k] = s
		}
	case []interface{}:
		for _, item := range val {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("list entries must be mappings, got %T", item)
			}
			for k, pv := range m {
				s, err := cast.ToStringE(pv)
				if err != nil {
					return nil, fmt.Errorf("parameter %s: %w", k, err)
				}
				params[k] = s
			}
		}
	default:
		return nil, fmt.Errorf("parameters must be a mapping, got %T", v)
	}

	return params, nil
}
