package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "API"

// source answers key lookups from layered maps. Later layers win.
type source struct {
	layers []map[string]string
}

func (s *source) push(layer map[string]string) {
	if len(layer) > 0 {
		s.layers = append(s.layers, layer)
	}
}

func (s *source) lookup(key string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if value, ok := s.layers[i][key]; ok {
			return value, true
		}
	}
	return "", false
}

// values flattens every layer into one map.
func (s *source) values() map[string]string {
	out := make(map[string]string)
	for _, layer := range s.layers {
		for key, value := range layer {
			out[key] = value
		}
	}
	return out
}

func (s *source) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (s *source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (s *source) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(s.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (s *source) boolean(key string, fallback bool) bool {
	switch s.lower(key, "") {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// newSource stacks the config file, dotenv file, process environment and explicit map in
// increasing precedence.
func newSource(o loaderOptions) (*source, error) {
	src := &source{}

	filePath := o.configFile
	if filePath == "" && o.envMap != nil {
		filePath = strings.TrimSpace(o.envMap[envPrefix+"_CONFIG_FILE"])
	}
	if filePath == "" && o.useSystemEnv {
		filePath = strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG_FILE"))
	}
	fileValues, err := readConfigFile(filePath)
	if err != nil {
		return nil, err
	}
	src.push(fileValues)

	dotEnv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	src.push(dotEnv)

	if o.useSystemEnv {
		src.push(systemEnv())
	}
	src.push(o.envMap)
	return src, nil
}

func systemEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}

// readConfigFile loads a YAML document whose nested keys map onto environment names, so
//
//	cart:
//	  backend: postgres
//
// sets API_CART_BACKEND. A missing path yields no values.
func readConfigFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(map[string]string)
	flattenYAML(envPrefix, doc, out)
	return out, nil
}

func flattenYAML(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		name := prefix + "_" + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
		switch v := value.(type) {
		case map[string]any:
			flattenYAML(name, v, out)
		case nil:
		default:
			out[name] = fmt.Sprint(v)
		}
	}
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return out, nil
}
