package tasks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/transfer"
)

var errNoSuchKey = errors.New("no such key")

type object struct {
	data []byte
	tags map[string]string
}

// fakeObjects keeps objects in memory, keyed by bucket then key.
type fakeObjects struct {
	buckets map[string]map[string]object
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: make(map[string]map[string]object)}
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64, tags map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = make(map[string]object)
	}
	f.buckets[bucket][key] = object{data: data, tags: tags}
	return nil
}

func (f *fakeObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, map[string]string, error) {
	o, ok := f.buckets[bucket][key]
	if !ok {
		return nil, nil, errNoSuchKey
	}
	return io.NopCloser(bytes.NewReader(o.data)), o.tags, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, bucket, key string) error {
	delete(f.buckets[bucket], key)
	return nil
}

// ============================================================================
// Arguments
// ============================================================================

func TestParseObjectArgs(t *testing.T) {
	a, err := parseObjectArgs(TypeS3Put, "--bucket Archive --key 2024/report.csv --tags team:ops,env:prod")
	require.NoError(t, err)
	assert.Equal(t, "archive", a.Bucket)
	assert.Equal(t, "2024/report.csv", a.Key)
	assert.Equal(t, map[string]string{"team": "ops", "env": "prod"}, a.SetTags)

	a, err = parseObjectArgs(TypeS3Get, "--bucket b --get-tags team,env")
	require.NoError(t, err)
	assert.Equal(t, []string{"team", "env"}, a.GetTags)

	t.Run("errors", func(t *testing.T) {
		for _, arg := range []string{"", "--key k", "--bucket b --tags novalue", "--bucket b --unknown x"} {
			_, err := parseObjectArgs(TypeS3Put, arg)
			assert.Error(t, err, arg)
		}
	})
}

func TestSelectTags(t *testing.T) {
	tags := map[string]string{"a": "1", "b": "2"}
	assert.Nil(t, selectTags(tags, nil))
	assert.Equal(t, tags, selectTags(tags, []string{"*"}))
	assert.Equal(t, map[string]string{"b": "2"}, selectTags(tags, []string{"b", "c"}))
}

// ============================================================================
// Tasks
// ============================================================================

func TestS3Put(t *testing.T) {
	env := newEnv(t, "hello")
	objs := newFakeObjects()
	env.Objects = objs

	spec := transfer.TaskSpec{Type: "S3PUT", Path: "--bucket archive --key #RULE#/#TRUEFILENAME# --tags id:#SPECIALID#"}
	require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{spec}))

	o, ok := objs.buckets["archive"]["push/report.csv"]
	require.True(t, ok)
	assert.Equal(t, "hello", string(o.data))
	assert.Equal(t, map[string]string{"id": "42"}, o.tags)

	t.Run("default key", func(t *testing.T) {
		spec := transfer.TaskSpec{Type: "S3PUT", Path: "--bucket archive"}
		require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{spec}))
		assert.Contains(t, objs.buckets["archive"], "report.csv")
	})
}

func TestS3PutDelete(t *testing.T) {
	env := newEnv(t, "hello")
	env.Objects = newFakeObjects()

	spec := transfer.TaskSpec{Type: "S3PUTR66DELETE", Path: "--bucket archive"}
	require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{spec}))

	exists, err := afero.Exists(env.Fs, "/in/report.csv")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3Get(t *testing.T) {
	env := newEnv(t, "old")
	env.File = nil
	objs := newFakeObjects()
	env.Objects = objs
	require.NoError(t, objs.PutObject(context.Background(), "inbox", "daily.csv",
		bytes.NewReader([]byte("fresh data")), 10, map[string]string{"owner": "ops", "x": "y"}))

	spec := transfer.TaskSpec{Type: "S3GET", Path: "--bucket inbox --key daily.csv --file daily.csv --get-tags owner"}
	require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{spec}))

	d := env.Descriptor
	assert.Equal(t, "/in/daily.csv", d.Filename)
	assert.Equal(t, int64(10), d.OriginalSize)
	assert.JSONEq(t, `{"owner":"ops"}`, d.FileInfo)

	data, err := afero.ReadFile(env.Fs, "/in/daily.csv")
	require.NoError(t, err)
	assert.Equal(t, "fresh data", string(data))

	t.Run("get and delete", func(t *testing.T) {
		spec := transfer.TaskSpec{Type: "S3GETDELETE", Path: "--bucket inbox --key daily.csv"}
		require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{spec}))
		assert.NotContains(t, objs.buckets["inbox"], "daily.csv")
	})

	t.Run("missing object", func(t *testing.T) {
		spec := transfer.TaskSpec{Type: "S3GET", Path: "--bucket inbox --key nope.csv"}
		err := Run(context.Background(), env, []transfer.TaskSpec{spec})
		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, codes.ExternalOp, te.Code)
		assert.ErrorIs(t, err, errNoSuchKey)
	})
}

func TestS3Delete(t *testing.T) {
	env := newEnv(t, "x")
	objs := newFakeObjects()
	env.Objects = objs
	require.NoError(t, objs.PutObject(context.Background(), "b", "k", bytes.NewReader(nil), 0, nil))

	require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{{Type: "S3DELETE", Path: "--bucket b --key k"}}))
	assert.Empty(t, objs.buckets["b"])

	err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "S3DELETE", Path: "--bucket b"}})
	assert.Error(t, err)
}

func TestS3WithoutStore(t *testing.T) {
	env := newEnv(t, "x")
	err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "S3PUT", Path: "--bucket b"}})
	assert.ErrorIs(t, err, ErrNoObjectStore)
	assert.True(t, Known("s3getdelete"))
}
