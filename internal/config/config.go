// Package config layers a YAML file and .env variables underneath command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultDSN is used when neither --db nor POSTGRES_* variables are set.
const DefaultDSN = "faces.db"

// File maps flag names to values. Lists fill slice flags one element at a time.
type File map[string]any

// Load reads a YAML config file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return f, nil
}

// Apply sets every flag the user did not pass on the command line. Keys that the
// flag set does not define are skipped, since one file serves every command.
func (f File) Apply(flags *pflag.FlagSet) ([]string, error) {
	var applied []string
	for name, raw := range f {
		flag := flags.Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		values, err := toStrings(raw)
		if err != nil {
			return applied, fmt.Errorf("config key %q: %w", name, err)
		}
		for _, v := range values {
			if err := flags.Set(name, v); err != nil {
				return applied, fmt.Errorf("config key %q: %w", name, err)
			}
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := scalar(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func scalar(v any) (string, error) {
	switch v.(type) {
	case string, bool, int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// LoadEnv loads .env files into the environment without overriding variables
// that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ResolveDSN picks the identity store: an explicit --db value, then POSTGRES_*
// variables, then the local SQLite file.
func ResolveDSN(flag string, getenv func(string) string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDSN
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + getenv("POSTGRES_DB"),
	}
	if user, pass := getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"); user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}
	return u.String()
}
