//go:build !unix

package files

import "github.com/spf13/afero"

// FreeSpace is not measured on this platform and always returns -1.
func FreeSpace(afero.Fs, string) (int64, error) {
	return -1, nil
}
