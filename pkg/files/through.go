package files

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// RecvThroughHandler consumes the blocks of a receive-through transfer in
// place of a file.
type RecvThroughHandler interface {
	WriteBlock(rank int32, p []byte) error
	Close() error
}

// SendThroughHandler produces the blocks of a send-through transfer. The
// application drives the transfer by pulling from it.
type SendThroughHandler interface {
	// ReadBlock fills buf with the next block and returns io.EOF at the end.
	ReadBlock(buf []byte) (int, error)
	Close() error
}

// osPath maps dir to a real path when fs is the OS filesystem, possibly
// wrapped in a BasePathFs.
func osPath(fs afero.Fs, dir string) (string, bool) {
	switch v := fs.(type) {
	case *afero.OsFs:
		return filepath.FromSlash(dir), true
	case *afero.BasePathFs:
		p, err := v.RealPath(dir)
		return p, err == nil
	}
	return "", false
}
