package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/files"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// checkFile enforces the conditions of a CHKFILE argument, separated by
// spaces: SIZE>n and SIZE<n bound the transfer size, DFCHECK requires the
// free space of the target directory to hold it.
func checkFile(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	size := env.Descriptor.OriginalSize
	if size < 0 && env.File != nil {
		n, err := env.File.Length()
		if err != nil {
			return err
		}
		size = n
	}

	for _, cond := range strings.Fields(Substitute(spec.Path, env)) {
		switch {
		case strings.HasPrefix(cond, "SIZE>"):
			limit, err := strconv.ParseInt(cond[len("SIZE>"):], 10, 64)
			if err != nil {
				return fmt.Errorf("bad condition %q: %w", cond, err)
			}
			if size >= 0 && size <= limit {
				return fmt.Errorf("%w: %d <= %d", errSize, size, limit)
			}
		case strings.HasPrefix(cond, "SIZE<"):
			limit, err := strconv.ParseInt(cond[len("SIZE<"):], 10, 64)
			if err != nil {
				return fmt.Errorf("bad condition %q: %w", cond, err)
			}
			if size >= 0 && size >= limit {
				return fmt.Errorf("%w: %d >= %d", errSize, size, limit)
			}
		case cond == "DFCHECK":
			dir := "/"
			if env.Dir != nil {
				dir = env.Dir.Root
			}
			free, err := files.FreeSpace(env.Fs, dir)
			if err != nil {
				return err
			}
			if free >= 0 && size > free {
				return fmt.Errorf("%w: %d bytes needed, %d free", errSize, size, free)
			}
		default:
			return fmt.Errorf("unknown condition %q", cond)
		}
	}
	return nil
}

// renameFile moves the file and records its new name.
func renameFile(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	dst, err := target(env, spec.Path)
	if err != nil {
		return err
	}
	if err := env.File.RenameTo(dst); err != nil {
		return err
	}
	env.Descriptor.Filename = dst
	env.Descriptor.FileMoved = true
	logger.InfoCtx(ctx, "File renamed", logger.Path(dst))
	return nil
}

// copyFile copies the file to the target, leaving the transfer's file alone.
// A target ending in "/" keeps the file's base name.
func copyFile(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	dst, err := target(env, spec.Path)
	if err != nil {
		return err
	}
	src := env.File.Path()
	if strings.HasSuffix(spec.Path, "/") {
		dst = path.Join(dst, path.Base(src))
	}

	in, err := env.Fs.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %s", files.ErrNotFound, src)
	}
	defer in.Close()

	if err := env.Fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := env.Fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// deleteFile removes the file.
func deleteFile(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	if env.File != nil {
		return env.File.Delete()
	}
	err := env.Fs.Remove(env.Descriptor.Filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// logMessage logs the substituted argument. Delay selects the level:
// 0 debug, 1 info, 2 warn, 3 or more error.
func logMessage(ctx context.Context, env *Env, spec transfer.TaskSpec) error {
	msg := Substitute(spec.Path, env)
	attrs := []any{logger.SpecialID(env.Descriptor.SpecialID), logger.Rule(env.Descriptor.Rule)}
	switch {
	case spec.Delay <= 0:
		logger.DebugCtx(ctx, msg, attrs...)
	case spec.Delay == 1:
		logger.InfoCtx(ctx, msg, attrs...)
	case spec.Delay == 2:
		logger.WarnCtx(ctx, msg, attrs...)
	default:
		logger.ErrorCtx(ctx, msg, attrs...)
	}
	return nil
}
