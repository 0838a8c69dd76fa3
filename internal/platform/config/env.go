package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvironmentValues merges the dotenv file, the process environment and the explicit map in that
// order of increasing precedence, the same layering Load reads through. main uses it to build the
// secret fetcher before configuration is loaded.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	src, err := options.source()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(src.dotenv)+len(src.overrides))
	for k, v := range src.dotenv {
		values[k] = v
	}
	if src.system {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for k, v := range src.overrides {
		values[k] = v
	}
	return values, nil
}

// readDotEnv parses path with godotenv. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// envSource resolves a key through overrides, then the process environment, then dotenv.
type envSource struct {
	overrides map[string]string
	system    bool
	dotenv    map[string]string
}

func (s envSource) lookup(key string) string {
	if v, ok := s.overrides[key]; ok {
		return strings.TrimSpace(v)
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.dotenv[key])
}

// envReader typed-reads variables and remembers which ones held unparsable values, so a typo
// fails validation instead of silently running on the default.
type envReader struct {
	src     envSource
	invalid []string
}

func (r *envReader) str(key, fallback string) string {
	if v := r.src.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) lower(key, fallback string) string {
	return strings.ToLower(r.str(key, fallback))
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.src.lookup(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return d
}

func (r *envReader) integer(key string, fallback int) int {
	raw := r.src.lookup(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return n
}

func (r *envReader) flag(key string, fallback bool) bool {
	switch strings.ToLower(r.src.lookup(key)) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		r.invalid = append(r.invalid, key)
		return fallback
	}
}

// list splits a comma separated value, dropping blanks.
func (r *envReader) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(r.src.lookup(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs reads "name=value,name=value"; names are lower-cased.
func (r *envReader) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range r.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			r.invalid = append(r.invalid, key)
			continue
		}
		out[name] = value
	}
	return out
}
