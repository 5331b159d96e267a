package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	outsideDir := filepath.Join(tmpDir, "outside")
	for _, d := range []string{safeDir, outsideDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll(%s): %v", d, err)
		}
	}

	// A symlink planted inside the safe directory that points out of it.
	planted := filepath.Join(safeDir, "planted")
	if err := os.Symlink(outsideDir, planted); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	tests := []struct {
		name     string
		filePath string
		safeDir  string
		wantErr  bool
	}{
		{
			name:     "existing_file_inside",
			filePath: filepath.Join(safeDir, "live.json"),
			safeDir:  safeDir,
		},
		{
			name:     "file_not_yet_written",
			filePath: filepath.Join(safeDir, "new", "live.json"),
			safeDir:  safeDir,
		},
		{
			name:     "dotdot_escape",
			filePath: filepath.Join(safeDir, "..", "live.json"),
			safeDir:  safeDir,
			wantErr:  true,
		},
		{
			name:     "relative_escape",
			filePath: "../../../etc/passwd",
			safeDir:  safeDir,
			wantErr:  true,
		},
		{
			name:     "absolute_path_outside",
			filePath: "/etc/passwd",
			safeDir:  safeDir,
			wantErr:  true,
		},
		{
			name:     "write_through_planted_symlink",
			filePath: filepath.Join(planted, "live.json"),
			safeDir:  safeDir,
			wantErr:  true,
		},
		{
			name:     "planted_symlink_itself",
			filePath: planted,
			safeDir:  safeDir,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%s, %s) error = %v, wantErr %v",
					tt.filePath, tt.safeDir, err, tt.wantErr)
			}
		})
	}
}

// A safe directory that is itself a symlink must still admit its own
// contents; the config directory is often a link on deployed devices.
func TestValidatePathWithinSymlinkedDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	realDir := filepath.Join(tmpDir, "real")
	if err := os.MkdirAll(realDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	linkDir := filepath.Join(tmpDir, "link")
	if err := os.Symlink(realDir, linkDir); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(linkDir, "live.json"), linkDir); err != nil {
		t.Errorf("path inside symlinked safe dir rejected: %v", err)
	}
}

func TestValidatePathWithinMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if err := ValidatePathWithinDirectory(filepath.Join(missing, "live.json"), missing); err == nil {
		t.Error("expected an error for a safe directory that does not exist")
	}
}
