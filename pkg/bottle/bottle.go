// Package bottle describes Wine prefixes ("bottles") that software is
// installed into. Bottles are owned by another application; this package only
// reads the directory they live in.
package bottle

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/isodrop/isodrop/pkg/errors"
)

// Bottle is a target environment. Root is its identity.
type Bottle struct {
	Root string
	Name string
}

// List returns one Bottle per directory directly inside dir, ordered by name.
// Hidden directories are skipped.
func List(fs afero.Fs, dir string) ([]Bottle, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read bottles directory %s", dir)
	}

	var bottles []Bottle
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		bottles = append(bottles, Bottle{
			Root: filepath.Join(dir, info.Name()),
			Name: info.Name(),
		})
	}
	return bottles, nil
}

// Default picks the bottle whose Root equals current, else the first one.
// ok is false when bottles is empty.
func Default(bottles []Bottle, current string) (b Bottle, ok bool) {
	if len(bottles) == 0 {
		return Bottle{}, false
	}
	if current != "" {
		for _, b := range bottles {
			if b.Root == current {
				return b, true
			}
		}
	}
	return bottles[0], true
}

// Find resolves ref against bottles, by Root first and then by Name
// (case-insensitive).
func Find(bottles []Bottle, ref string) (Bottle, bool) {
	for _, b := range bottles {
		if b.Root == ref {
			return b, true
		}
	}
	for _, b := range bottles {
		if strings.EqualFold(b.Name, ref) {
			return b, true
		}
	}
	return Bottle{}, false
}
