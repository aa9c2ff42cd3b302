package files

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// BlockFile Tests
// ============================================================================

func TestBlockFileWriteThenRead(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, err := Create(fs, "/in/data.bin")
	require.NoError(t, err)
	require.NoError(t, w.WriteBlock([]byte("aaaa")))
	require.NoError(t, w.WriteBlock([]byte("bbbb")))
	require.NoError(t, w.WriteBlock([]byte("cc")))

	n, err := w.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	require.NoError(t, w.Close())

	r, err := Open(fs, "/in/data.bin")
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 4)
	var blocks []string
	for {
		n, err := r.ReadBlock(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		blocks = append(blocks, string(buf[:n]))
	}
	assert.Equal(t, []string{"aaaa", "bbbb", "cc"}, blocks)
}

func TestBlockFileRestartMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/f", []byte("0123456789"), 0o644))

	t.Run("read resumes at offset", func(t *testing.T) {
		r, err := Open(fs, "/f")
		require.NoError(t, err)
		defer r.Close()

		require.NoError(t, r.RestartMarker(6))
		buf := make([]byte, 8)
		n, err := r.ReadBlock(buf)
		require.NoError(t, err)
		assert.Equal(t, "6789", string(buf[:n]))
		assert.Equal(t, int64(10), r.Position())
	})

	t.Run("write overwrites from offset", func(t *testing.T) {
		w, err := Create(fs, "/f")
		require.NoError(t, err)
		require.NoError(t, w.WriteBlock([]byte("01")))
		require.NoError(t, w.RestartMarker(2))
		require.NoError(t, w.WriteBlock([]byte("XY")))
		require.NoError(t, w.Close())

		got, err := afero.ReadFile(fs, "/f")
		require.NoError(t, err)
		assert.Equal(t, "01XY456789", string(got))
	})
}

func TestBlockFileRenameDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Create(fs, "/work/f.part")
	require.NoError(t, err)
	require.NoError(t, w.WriteBlock([]byte("x")))

	require.NoError(t, w.RenameTo("/out/f"))
	assert.Equal(t, "/out/f", w.Path())
	assert.True(t, w.Exists())

	require.NoError(t, w.Delete())
	assert.False(t, w.Exists())
	assert.ErrorIs(t, w.WriteBlock([]byte("y")), ErrClosed)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(afero.NewMemMapFs(), "/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// Dir Tests
// ============================================================================

func TestDirResolve(t *testing.T) {
	d := NewDir(afero.NewMemMapFs(), "/data/in")

	tests := []struct {
		name string
		want string
	}{
		{"file.txt", "/data/in/file.txt"},
		{"sub/file.txt", "/data/in/sub/file.txt"},
		{"../../etc/passwd", "/data/in/etc/passwd"},
		{`win\path.txt`, "/data/in/win/path.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.Resolve("")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestDirUniqueNameAndList(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDir(fs, "/out")
	require.NoError(t, afero.WriteFile(fs, "/out/a.txt", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/a.1.txt", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/b.log", nil, 0o644))

	name, err := d.UniqueName("dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/out/a.2.txt", name)

	all, err := d.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.1.txt", "a.txt", "b.log"}, all)

	txt, err := d.List("*.txt")
	require.NoError(t, err)
	assert.Len(t, txt, 2)

	tmp, err := d.TempName("in/report.csv", 42, "hostA")
	require.NoError(t, err)
	assert.Equal(t, "/out/report.csv_42_hostA.part", tmp)
}

func TestFreeSpaceMemFs(t *testing.T) {
	n, err := FreeSpace(afero.NewMemMapFs(), "/")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}
