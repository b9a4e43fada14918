package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPathLookup(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(work)

	got, err := ConfigPath()
	if err != nil || got != "" {
		t.Fatalf("no config: got %q, %v", got, err)
	}

	global := filepath.Join(home, ".readmore", "readmore.yaml")
	if err := EnsureParentDir(global); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(global, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ = ConfigPath(); got != global {
		t.Errorf("global config: got %q, want %q", got, global)
	}

	if err := os.WriteFile(filepath.Join(work, "readmore.toml"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	got, _ = ConfigPath()
	if filepath.Base(got) != "readmore.toml" || filepath.Dir(got) == filepath.Dir(global) {
		t.Errorf("local config should win: got %q", got)
	}
}

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"~", home},
		{"~/x/y.json", filepath.Join(home, "x/y.json")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandTilde(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ExpandTilde(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}
