package misc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyConfigTemplate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "config.example.yaml")
	dst := filepath.Join(dir, "nested", "config.yaml")
	if err := os.WriteFile(src, []byte("api-base-url: https://api.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := CopyConfigTemplate(src, dst); err != nil {
		t.Fatalf("CopyConfigTemplate() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "api-base-url: https://api.example.com\n" {
		t.Fatalf("copied content = %q, %v", got, err)
	}

	if err = CopyConfigTemplate(src, dst); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("second copy error = %v, want ErrConfigExists", err)
	}
}
