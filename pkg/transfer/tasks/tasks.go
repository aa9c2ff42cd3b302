// Package tasks runs the pre, post and error tasks attached to a rule.
//
// A task is a named operation on the transfer's file and descriptor, such as
// a size check, a rename or an upload to an object store. Tasks of a stage
// run in order; the first failure stops the stage.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/files"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Type names a task.
type Type string

const (
	TypeChkFile Type = "CHKFILE"
	TypeRename  Type = "RENAME"
	TypeCopy    Type = "COPY"
	TypeDelete  Type = "DELETE"
	TypeLog     Type = "LOG"
)

// Env is the state a task operates on.
type Env struct {
	Fs         afero.Fs
	Descriptor *transfer.Descriptor

	// File is the transfer's file; nil for pass-through transfers or before
	// the file is opened.
	File files.File

	// Dir resolves relative task targets.
	Dir *files.Dir

	LocalHost  string
	RemoteHost string

	// Objects backs the S3 tasks; nil when no object store is configured.
	Objects ObjectStore
}

// Error is returned when a task fails. Code is the status reported to the
// partner.
type Error struct {
	Task Type
	Step int
	Code codes.ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("task %s (step %d): %v", e.Task, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// errSize is wrapped by CHKFILE failures so they map to SizeNotAllowed.
var errSize = errors.New("size not allowed")

type taskFunc func(ctx context.Context, env *Env, spec transfer.TaskSpec) error

type task struct {
	Name    Type
	Handler taskFunc

	// NeedsFile indicates the task cannot run on a pass-through transfer.
	NeedsFile bool
}

var taskTable = map[Type]*task{
	TypeChkFile: {Name: TypeChkFile, Handler: checkFile},
	TypeRename:  {Name: TypeRename, Handler: renameFile, NeedsFile: true},
	TypeCopy:    {Name: TypeCopy, Handler: copyFile, NeedsFile: true},
	TypeDelete:  {Name: TypeDelete, Handler: deleteFile},
	TypeLog:     {Name: TypeLog, Handler: logMessage},

	TypeS3Put:       {Name: TypeS3Put, Handler: s3Put},
	TypeS3PutDelete: {Name: TypeS3PutDelete, Handler: s3PutDelete},
	TypeS3Get:       {Name: TypeS3Get, Handler: s3Get},
	TypeS3GetDelete: {Name: TypeS3GetDelete, Handler: s3GetDelete},
	TypeS3Delete:    {Name: TypeS3Delete, Handler: s3Delete},
}

// Known reports whether name is a supported task type.
func Known(name string) bool {
	_, ok := taskTable[Type(strings.ToUpper(name))]
	return ok
}

// Run executes specs in order. The descriptor's TaskStep tracks the task being
// run and is left at len(specs) when every task succeeded.
func Run(ctx context.Context, env *Env, specs []transfer.TaskSpec) error {
	d := env.Descriptor
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.TaskStep = i

		t, ok := taskTable[Type(strings.ToUpper(spec.Type))]
		if !ok {
			return &Error{Task: Type(spec.Type), Step: i, Code: codes.CommandNotFound,
				Err: fmt.Errorf("unknown task type %q", spec.Type)}
		}
		if t.NeedsFile && env.File == nil {
			logger.DebugCtx(ctx, "Task skipped without file", logger.KeyTaskType, string(t.Name), logger.KeyStep, i)
			continue
		}

		start := time.Now()
		if err := t.Handler(ctx, env, spec); err != nil {
			code := codes.ExternalOp
			switch {
			case errors.Is(err, errSize):
				code = codes.SizeNotAllowed
			case errors.Is(err, files.ErrNotFound), errors.Is(err, afero.ErrFileNotFound):
				code = codes.FileNotFound
			}
			return &Error{Task: t.Name, Step: i, Code: code, Err: err}
		}
		logger.DebugCtx(ctx, "Task done", logger.KeyTaskType, string(t.Name), logger.KeyStep, i,
			logger.KeyDurationMs, logger.Duration(start))
	}
	d.TaskStep = len(specs)
	return nil
}

// =============================================================================
// Substitution
// =============================================================================

// Substitute expands the #NAME# placeholders of arg for env.
func Substitute(arg string, env *Env) string {
	if !strings.Contains(arg, "#") {
		return arg
	}
	d := env.Descriptor
	now := time.Now()
	trueName := d.Filename
	if env.File != nil {
		trueName = env.File.Path()
	}
	r := strings.NewReplacer(
		"#TRUEFULLPATH#", trueName,
		"#TRUEFILENAME#", path.Base(trueName),
		"#ORIGINALFULLPATH#", d.OriginalFilename,
		"#ORIGINALFILENAME#", path.Base(d.OriginalFilename),
		"#FILESIZE#", strconv.FormatInt(d.OriginalSize, 10),
		"#RULE#", d.Rule,
		"#SPECIALID#", strconv.FormatInt(d.SpecialID, 10),
		"#REMOTEHOST#", env.RemoteHost,
		"#LOCALHOST#", env.LocalHost,
		"#TRANSFERINFO#", d.TransferInfo,
		"#RANKTRANSFER#", strconv.Itoa(int(d.Rank)),
		"#BLOCKSIZE#", strconv.Itoa(int(d.BlockSize)),
		"#DATE#", now.Format("20060102"),
		"#HOUR#", now.Format("150405"),
	)
	return r.Replace(arg)
}

// target resolves a task argument to a path on env.Fs. Absolute arguments are
// used as is; relative ones land in env.Dir, or next to the file.
func target(env *Env, arg string) (string, error) {
	p := Substitute(strings.TrimSpace(arg), env)
	if p == "" {
		return "", fmt.Errorf("empty target")
	}
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}
	if env.Dir != nil {
		return env.Dir.Resolve(p)
	}
	base := env.Descriptor.Filename
	if env.File != nil {
		base = env.File.Path()
	}
	return path.Join(path.Dir(base), p), nil
}
