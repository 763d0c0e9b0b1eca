package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWithin(t *testing.T) {
	dir := t.TempDir()
	require := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.MkdirAll(filepath.Join(dir, "plots"), 0o755))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing subdir", filepath.Join(dir, "plots"), true},
		{"new file", filepath.Join(dir, "plots", "out.png"), true},
		{"new nested file", filepath.Join(dir, "a", "b", "out.png"), true},
		{"the dir itself", dir, true},
		{"dot dot escape", filepath.Join(dir, "..", "out.png"), false},
		{"unrelated", "/etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Within(tt.path, dir)
			if err != nil {
				t.Fatalf("Within: %v", err)
			}
			if got != tt.want {
				t.Errorf("Within(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWithin_SymlinkedParent(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(dir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := Within(filepath.Join(link, "new.png"), dir)
	if err != nil {
		t.Fatalf("Within: %v", err)
	}
	if got {
		t.Error("a file under a symlink to another directory must not be within dir")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "x.json"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	err := ValidatePathWithinAllowedDirs("/etc/x.json", []string{a, b})
	if !errors.Is(err, ErrOutsideAllowedDirs) {
		t.Errorf("got %v, want ErrOutsideAllowedDirs", err)
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "x"), nil); err == nil {
		t.Error("expected an error without allowed directories")
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(t.TempDir(), "timeline.png")); err != nil {
		t.Errorf("temp path rejected: %v", err)
	}
	if err := ValidateExportPath("timeline.png"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if err := ValidateExportPath("/etc/timeline.png"); err == nil {
		t.Error("expected /etc to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cam-1", "cam-1"},
		{"cam/a", "cam_a"},
		{"cam b", "cam_b"},
		{"rtsp://10.0.0.2:554/main", "rtsp_10.0.0.2_554_main"},
		{"../../etc", "etc"},
		{"  gate  ", "gate"},
		{"", "unknown"},
		{"///", "unknown"},
		{"café", "caf"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
