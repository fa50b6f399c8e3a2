package security

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestValidator(t *testing.T, maxSize int64) (*Validator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return NewValidator(fs, maxSize, []string{"iso", ".CDR", "dmg"}), fs
}

func TestValidateKey_PathTraversal(t *testing.T) {
	v, _ := newTestValidator(t, 1024)

	tests := []struct {
		key       string
		shouldErr bool
	}{
		{"mygame.iso", false},
		{"discs/2003/mygame.iso", false},
		{"discs/../mygame.iso", false},
		{"..mygame.iso", false},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"discs/../../etc/passwd", true},
		{"..", true},
		{"", true},
	}

	for _, tt := range tests {
		err := v.ValidateKey(tt.key)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for key: %q", tt.key)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for key %q: %v", tt.key, err)
		}
	}
}

func TestValidateExtension(t *testing.T) {
	v, _ := newTestValidator(t, 1024)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"/tmp/mygame.iso", false},
		{"/tmp/MYGAME.ISO", false},
		{"/tmp/mygame.cdr", false},
		{"/tmp/mygame.dmg", false},
		{"/tmp/mygame.zip", true},
		{"/tmp/mygame", true},
	}

	for _, tt := range tests {
		err := v.ValidateExtension(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path: %s", tt.path)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path %s: %v", tt.path, err)
		}
	}
}

func TestValidateExtension_EmptyListAllowsAll(t *testing.T) {
	v := NewValidator(afero.NewMemMapFs(), 0, nil)
	if err := v.ValidateExtension("/tmp/anything.bin"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateSize(t *testing.T) {
	v, _ := newTestValidator(t, 100)

	if err := v.ValidateSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}

	unlimited := NewValidator(afero.NewMemMapFs(), 0, nil)
	if err := unlimited.ValidateSize(1 << 40); err != nil {
		t.Errorf("expected zero limit to disable the check, got: %v", err)
	}
}

func TestValidateImage(t *testing.T) {
	v, fs := newTestValidator(t, 16)

	if err := afero.WriteFile(fs, "/images/small.iso", []byte("disc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/images/large.iso", make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/images/notes.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.MkdirAll("/images/folder.iso", 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		shouldErr bool
	}{
		{"valid", "/images/small.iso", false},
		{"too large", "/images/large.iso", true},
		{"wrong extension", "/images/notes.txt", true},
		{"directory", "/images/folder.iso", true},
		{"missing", "/images/missing.iso", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateImage(tt.path)
			if tt.shouldErr && err == nil {
				t.Errorf("expected error for %s", tt.path)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error for %s: %v", tt.path, err)
			}
		})
	}
}
