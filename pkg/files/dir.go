package files

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ErrOutsideRoot is returned when a name escapes its directory.
var ErrOutsideRoot = errors.New("path escapes directory")

// Dir is a directory a rule reads from or writes to. Names handed to it are
// resolved inside Root and never escape it.
type Dir struct {
	Fs   afero.Fs
	Root string
}

// NewDir returns a Dir rooted at root on fs.
func NewDir(fs afero.Fs, root string) *Dir {
	return &Dir{Fs: fs, Root: path.Clean("/" + strings.TrimPrefix(root, "/"))}
}

// Resolve maps name into the directory.
func (d *Dir) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrOutsideRoot)
	}
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	full := path.Join(d.Root, clean)
	if full != d.Root && !strings.HasPrefix(full, strings.TrimSuffix(d.Root, "/")+"/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return full, nil
}

// TempName returns the in-progress name of a received file. It is stable for
// a transfer so that a restart finds the partial file again.
func (d *Dir) TempName(filename string, specialID int64, requester string) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return d.Resolve(base + "_" + strconv.FormatInt(specialID, 10) + "_" + requester + ".part")
}

// UniqueName returns a name in the directory not used by any file, derived
// from filename.
func (d *Dir) UniqueName(filename string) (string, error) {
	full, err := d.Resolve(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if err != nil {
		return "", err
	}
	ext := path.Ext(full)
	stem := strings.TrimSuffix(full, ext)
	candidate := full
	for i := 1; ; i++ {
		ok, err := afero.Exists(d.Fs, candidate)
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
		candidate = stem + "." + strconv.Itoa(i) + ext
	}
}

// List returns the names of files in the directory matching pattern, sorted.
// An empty pattern matches everything.
func (d *Dir) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	entries, err := afero.ReadDir(d.Fs, d.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := path.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
