package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Validator checks disc images and remote object keys before they are mounted
// or downloaded.
type Validator struct {
	fs         afero.Fs
	maxSize    int64
	extensions map[string]struct{}
}

// NewValidator creates a validator. extensions are matched case-insensitively
// with or without a leading dot. An empty list allows any extension.
func NewValidator(fs afero.Fs, maxSize int64, extensions []string) *Validator {
	slog.Info("security_validator_init",
		"max_image_size_mb", maxSize/1024/1024,
		"extensions", extensions)

	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts[e] = struct{}{}
		}
	}

	return &Validator{
		fs:         fs,
		maxSize:    maxSize,
		extensions: exts,
	}
}

// ValidateKey checks an object key for path traversal.
// The key becomes part of a local download path.
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		slog.Error("security_key_validation_failed", "key", key, "reason", "empty")
		return fmt.Errorf("security: empty object key")
	}

	// Reject absolute paths
	if filepath.IsAbs(key) {
		slog.Error("security_key_validation_failed", "key", key, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", key)
	}

	clean := filepath.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_key_validation_failed", "key", key, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", key)
	}

	return nil
}

// AllowedExtension reports whether path has an allowed image extension.
func (v *Validator) AllowedExtension(path string) bool {
	if len(v.extensions) == 0 {
		return true
	}
	_, ok := v.extensions[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))]
	return ok
}

// ValidateExtension checks the image extension against the allowed list.
func (v *Validator) ValidateExtension(path string) error {
	if !v.AllowedExtension(path) {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		slog.Error("security_extension_rejected", "path", path, "extension", ext)
		return fmt.Errorf("security: unsupported disc image extension %q: %s", ext, path)
	}
	return nil
}

// ValidateSize checks if an image exceeds the max size. A zero limit disables
// the check.
func (v *Validator) ValidateSize(size int64) error {
	if v.maxSize > 0 && size > v.maxSize {
		slog.Error("security_image_size_exceeded",
			"image_size_mb", size/1024/1024,
			"max_image_size_mb", v.maxSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxSize)
	}
	return nil
}

// ValidateImage checks that path is a regular file with an allowed extension
// and size.
func (v *Validator) ValidateImage(path string) error {
	info, err := v.fs.Stat(path)
	if err != nil {
		slog.Error("security_image_stat_failed", "path", path, "error", err)
		return fmt.Errorf("security: cannot stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		slog.Error("security_image_validation_failed", "path", path, "reason", "not_regular_file")
		return fmt.Errorf("security: not a regular file: %s", path)
	}
	if err := v.ValidateExtension(path); err != nil {
		return err
	}
	if err := v.ValidateSize(info.Size()); err != nil {
		return err
	}

	slog.Info("security_image_validated", "path", path, "size_mb", info.Size()/1024/1024)
	return nil
}
