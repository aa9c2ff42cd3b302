package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/pflag"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/transfer"
)

const (
	TypeS3Put       Type = "S3PUT"
	TypeS3PutDelete Type = "S3PUTR66DELETE"
	TypeS3Get       Type = "S3GET"
	TypeS3GetDelete Type = "S3GETDELETE"
	TypeS3Delete    Type = "S3DELETE"
)

// ErrNoObjectStore is returned by the S3 tasks when the node has no object
// store configured.
var ErrNoObjectStore = errors.New("no object store configured")

// ObjectStore is the bucket storage the S3 tasks operate on.
type ObjectStore interface {
	// PutObject uploads body as bucket/key, creating the bucket if needed,
	// then applies tags.
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, tags map[string]string) error

	// GetObject opens bucket/key and returns its tags.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, map[string]string, error)

	DeleteObject(ctx context.Context, bucket, key string) error
}

// NeedsObjectStore reports whether the task type name works on an
// ObjectStore.
func NeedsObjectStore(name string) bool {
	switch Type(strings.ToUpper(name)) {
	case TypeS3Put, TypeS3PutDelete, TypeS3Get, TypeS3GetDelete, TypeS3Delete:
		return true
	}
	return false
}

// objectArgs are the arguments of an S3 task, given as flags in the task
// path: --bucket, --key, --file, --tags k:v,k2:v2, --get-tags "*" or k,k2.
type objectArgs struct {
	Bucket  string
	Key     string
	File    string
	SetTags map[string]string
	GetTags []string
}

func parseObjectArgs(t Type, arg string) (*objectArgs, error) {
	fs := pflag.NewFlagSet(string(t), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var a objectArgs
	var tags string
	fs.StringVar(&a.Bucket, "bucket", "", "bucket name")
	fs.StringVar(&a.Key, "key", "", "object key")
	fs.StringVar(&a.File, "file", "", "local file")
	fs.StringVar(&tags, "tags", "", "tags to set")
	fs.StringSliceVar(&a.GetTags, "get-tags", nil, "tags to read")

	if err := fs.Parse(strings.Fields(arg)); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	if a.Bucket == "" {
		return nil, fmt.Errorf("%s: --bucket is required", t)
	}
	a.Bucket = strings.ToLower(a.Bucket)

	if tags != "" {
		a.SetTags = make(map[string]string)
		for _, kv := range strings.Split(tags, ",") {
			k, v, ok := strings.Cut(kv, ":")
			if !ok || k == "" {
				return nil, fmt.Errorf("%s: bad tag %q, want key:value", t, kv)
			}
			a.SetTags[k] = v
		}
	}
	return &a, nil
}

func (e *Env) objects() (ObjectStore, error) {
	if e.Objects == nil {
		return nil, ErrNoObjectStore
	}
	return e.Objects, nil
}

// s3Put uploads the transfer's file. The key defaults to the file's base
// name.
func s3Put(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	store, err := env.objects()
	if err != nil {
		return err
	}
	a, err := parseObjectArgs(TypeS3Put, Substitute(spec.Path, env))
	if err != nil {
		return err
	}

	src := env.Descriptor.Filename
	if env.File != nil {
		src = env.File.Path()
	}
	if a.Key == "" {
		a.Key = path.Base(src)
	}

	f, err := env.Fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := store.PutObject(ctx, a.Bucket, a.Key, f, info.Size(), a.SetTags); err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", src, a.Bucket, a.Key, err)
	}
	logger.InfoCtx(ctx, "File uploaded", logger.Path(src), "bucket", a.Bucket, "key", a.Key)
	return nil
}

// s3PutDelete uploads the file, then removes it locally.
func s3PutDelete(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	if err := s3Put(ctx, env, spec); err != nil {
		return err
	}
	return deleteFile(ctx, env, spec)
}

// s3Get downloads an object and makes it the transfer's file. The file
// defaults to the descriptor's filename; requested tags are stored as a
// JSON object in the descriptor's file information.
func s3Get(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	store, err := env.objects()
	if err != nil {
		return err
	}
	a, err := parseObjectArgs(TypeS3Get, Substitute(spec.Path, env))
	if err != nil {
		return err
	}
	d := env.Descriptor
	if a.Key == "" {
		a.Key = path.Base(d.Filename)
	}

	dst := d.Filename
	if a.File != "" {
		if dst, err = target(env, a.File); err != nil {
			return err
		}
	}

	body, tags, err := store.GetObject(ctx, a.Bucket, a.Key)
	if err != nil {
		return fmt.Errorf("download %s/%s: %w", a.Bucket, a.Key, err)
	}
	defer body.Close()

	if err := env.Fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := env.Fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = env.Fs.Remove(dst)
		return fmt.Errorf("write %s: %w", dst, err)
	}

	if selected := selectTags(tags, a.GetTags); len(selected) > 0 {
		info, err := json.Marshal(selected)
		if err != nil {
			return err
		}
		d.FileInfo = string(info)
	}
	d.Filename = dst
	d.OriginalSize = n
	logger.InfoCtx(ctx, "File downloaded", logger.Path(dst), "bucket", a.Bucket, "key", a.Key, logger.Size(n))
	return nil
}

// s3GetDelete downloads the object, then deletes it from the bucket.
func s3GetDelete(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	if err := s3Get(ctx, env, spec); err != nil {
		return err
	}
	return s3Delete(ctx, env, spec)
}

// s3Delete deletes an object. The key is required.
func s3Delete(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	store, err := env.objects()
	if err != nil {
		return err
	}
	a, err := parseObjectArgs(TypeS3Delete, Substitute(spec.Path, env))
	if err != nil {
		return err
	}
	if a.Key == "" {
		return fmt.Errorf("%s: --key is required", TypeS3Delete)
	}
	if err := store.DeleteObject(ctx, a.Bucket, a.Key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", a.Bucket, a.Key, err)
	}
	logger.InfoCtx(ctx, "Object deleted", "bucket", a.Bucket, "key", a.Key)
	return nil
}

// selectTags keeps the wanted keys of tags. "*" keeps every tag, no keys
// keeps none.
func selectTags(tags map[string]string, want []string) map[string]string {
	if len(want) == 0 || len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(want))
	for _, k := range want {
		if k == "*" {
			return tags
		}
		if v, ok := tags[k]; ok {
			out[k] = v
		}
	}
	return out
}
