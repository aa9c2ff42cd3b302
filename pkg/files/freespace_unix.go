//go:build unix

package files

import (
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// FreeSpace returns the bytes available to an unprivileged writer under dir,
// or -1 when fs is not backed by the operating system.
func FreeSpace(fs afero.Fs, dir string) (int64, error) {
	p, ok := osPath(fs, dir)
	if !ok {
		return -1, nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return -1, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
