// Package scan finds installer executables on a mounted disc volume.
//
// The root of the volume is listed first. Files whose name looks like a setup
// program (setup.exe, Install.msi, AUTORUN.EXE, ...) are ranked ahead of the
// rest. A fixed list of conventional subdirectories is then probed and any
// further executables are appended in discovery order. Directories that are
// missing or unreadable are skipped.
package scan

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Candidate is an executable found on the volume.
type Candidate struct {
	Path  string
	Setup bool // base name matched a setup keyword
}

// Name returns the file name of the candidate.
func (c Candidate) Name() string {
	return filepath.Base(c.Path)
}

// IsPackage reports whether the candidate is a Windows Installer package.
func (c Candidate) IsPackage() bool {
	return extension(c.Path) == "msi"
}

var (
	// Extensions recognized as installers, lower case without the dot.
	Extensions = []string{"exe", "msi"}

	// Keywords that mark a base name as setup-style.
	Keywords = []string{"setup", "install", "autorun", "launcher", "start", "play", "game"}

	// Subdirs probed after the root pass. "" re-probes the root.
	Subdirs = []string{"", "Setup", "Install", "Bin", "Game"}
)

// Scanner enumerates candidate executables. The zero value is not usable;
// use New or NewWithFs.
type Scanner struct {
	fs afero.Fs
}

// New returns a scanner over the OS filesystem.
func New() *Scanner {
	return NewWithFs(afero.NewOsFs())
}

// NewWithFs returns a scanner over fs.
func NewWithFs(fs afero.Fs) *Scanner {
	return &Scanner{fs: fs}
}

// Scan returns the ranked candidates on the volume rooted at root. The first
// element, if any, is the recommended default.
func (s *Scanner) Scan(root string) []Candidate {
	var setup, other []Candidate
	for _, name := range s.list(root) {
		if !recognized(name) {
			continue
		}
		c := Candidate{Path: filepath.Join(root, name), Setup: isSetupName(name)}
		if c.Setup {
			setup = append(setup, c)
		} else {
			other = append(other, c)
		}
	}

	result := append(setup, other...)
	seen := make(map[string]bool, len(result))
	for _, c := range result {
		seen[c.Path] = true
	}

	for _, sub := range Subdirs {
		dir := root
		if sub != "" {
			resolved, ok := s.resolveSubdir(root, sub)
			if !ok {
				continue
			}
			dir = resolved
		}
		for _, name := range s.list(dir) {
			path := filepath.Join(dir, name)
			if !recognized(name) || seen[path] {
				continue
			}
			seen[path] = true
			result = append(result, Candidate{Path: path, Setup: isSetupName(name)})
		}
	}

	return result
}

// list returns the names of regular files directly inside dir, in listing
// order. Unreadable directories yield nothing.
func (s *Scanner) list(dir string) []string {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	return names
}

// resolveSubdir finds sub directly under root. An exact match wins; otherwise
// the first case-insensitive match is used, since ISO9660 volumes usually
// present upper-case names.
func (s *Scanner) resolveSubdir(root, sub string) (string, bool) {
	infos, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return "", false
	}
	folded := ""
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		if info.Name() == sub {
			return filepath.Join(root, sub), true
		}
		if folded == "" && strings.EqualFold(info.Name(), sub) {
			folded = info.Name()
		}
	}
	if folded == "" {
		return "", false
	}
	return filepath.Join(root, folded), true
}

func recognized(name string) bool {
	ext := extension(name)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isSetupName(name string) bool {
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	for _, kw := range Keywords {
		if strings.Contains(base, kw) {
			return true
		}
	}
	return false
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
