package config

import (
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestApplySkipsChangedFlags(t *testing.T) {
	path := writeFile(t, "facegrid.yaml", `
scheduler: concurrent
tolerance: 0.45
engines: 3
serve: ""
streams:
  - a.mp4
  - b.mp4
unrelated: true
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("track", pflag.ContinueOnError)
	scheduler := fs.String("scheduler", "sequential", "")
	tolerance := fs.Float64("tolerance", 0.5, "")
	engines := fs.Int("engines", 1, "")
	streams := fs.StringSlice("streams", nil, "")
	fs.String("serve", ":8080", "")
	if err := fs.Parse([]string{"--engines=2"}); err != nil {
		t.Fatal(err)
	}

	applied, err := f.Apply(fs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	slices.Sort(applied)
	if want := []string{"scheduler", "serve", "streams", "tolerance"}; !slices.Equal(applied, want) {
		t.Errorf("applied %v, want %v", applied, want)
	}
	if *scheduler != "concurrent" || *tolerance != 0.45 {
		t.Errorf("scheduler=%q tolerance=%v", *scheduler, *tolerance)
	}
	if *engines != 2 {
		t.Errorf("command line value should win, engines=%d", *engines)
	}
	if !slices.Equal(*streams, []string{"a.mp4", "b.mp4"}) {
		t.Errorf("streams = %v", *streams)
	}
}

func TestApplyRejectsBadValues(t *testing.T) {
	fs := pflag.NewFlagSet("track", pflag.ContinueOnError)
	fs.Int("engines", 1, "")

	if _, err := (File{"engines": "many"}).Apply(fs); err == nil {
		t.Error("expected error for non-numeric engines")
	}
	if _, err := (File{"engines": map[string]any{"a": 1}}).Apply(fs); err == nil {
		t.Error("expected error for nested value")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "a: [1,")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, ".env", "FACEGRID_TEST_HOST=db.internal\nFACEGRID_TEST_KEEP=file\n")
	t.Setenv("FACEGRID_TEST_KEEP", "env")
	t.Setenv("FACEGRID_TEST_HOST", "")
	os.Unsetenv("FACEGRID_TEST_HOST")

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if got := os.Getenv("FACEGRID_TEST_HOST"); got != "db.internal" {
		t.Errorf("FACEGRID_TEST_HOST = %q", got)
	}
	if got := os.Getenv("FACEGRID_TEST_KEEP"); got != "env" {
		t.Errorf("existing variables must not be overridden, got %q", got)
	}
}

func TestResolveDSN(t *testing.T) {
	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}
	tests := []struct {
		name string
		flag string
		env  map[string]string
		want string
	}{
		{"flag wins", "postgres://x/y", map[string]string{"POSTGRES_HOST": "h"}, "postgres://x/y"},
		{"env with default port", "", map[string]string{
			"POSTGRES_HOST": "h", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "faces",
		}, "postgres://u:p@h:5432/faces"},
		{"env with port", "", map[string]string{"POSTGRES_HOST": "h", "POSTGRES_PORT": "6543"}, "postgres://h:6543/"},
		{"sqlite fallback", "  ", map[string]string{}, DefaultDSN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveDSN(tt.flag, env(tt.env)); got != tt.want {
				t.Errorf("ResolveDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveDSNEscapesCredentials(t *testing.T) {
	env := map[string]string{
		"POSTGRES_HOST":     "db.internal",
		"POSTGRES_USER":     "face grid",
		"POSTGRES_PASSWORD": "p@ss/w:rd?",
		"POSTGRES_DB":       "faces",
	}
	dsn := ResolveDSN("", func(k string) string { return env[k] })

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("ResolveDSN() = %q does not parse: %v", dsn, err)
	}
	pass, _ := u.User.Password()
	if u.User.Username() != "face grid" || pass != "p@ss/w:rd?" {
		t.Errorf("credentials = %q/%q, want the raw values back", u.User.Username(), pass)
	}
	if u.Hostname() != "db.internal" || u.Port() != "5432" || u.Path != "/faces" {
		t.Errorf("host=%q port=%q path=%q", u.Hostname(), u.Port(), u.Path)
	}
}
