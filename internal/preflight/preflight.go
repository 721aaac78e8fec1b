// Package preflight verifies a publish can reach its inputs and outputs
// before any work is planned.
//
// Checks compose with [All], which runs every check and joins the failures
// so one run reports everything that is wrong. [Named] prefixes a check's
// error with what it was checking.
package preflight

import (
	"context"
	"errors"

	"github.com/go-git/go-billy/v5"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// Check is evaluated once, before a run.
// nil = OK non-nil = FAIL with reason.
type Check interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Check.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// All runs every check, including after a failure, and joins the errors.
func All(cs ...Check) CheckFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, c := range cs {
			if c == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.Check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func Named(name string, c Check) CheckFunc {
	return func(ctx context.Context) error {
		if err := c.Check(ctx); err != nil {
			return xerrors.Wrapf(err, "preflight %s", name)
		}
		return nil
	}
}

// DirReadable passes when the root of fs is a directory whose entries can
// be listed.
func DirReadable(fs billy.Filesystem) CheckFunc {
	return func(context.Context) error {
		fi, err := fs.Stat(".")
		if err != nil {
			return xerrors.Wrapf(err, "stat %s", fs.Root())
		}
		if !fi.IsDir() {
			return xerrors.Newf("%s is not a directory", fs.Root())
		}
		if _, err := fs.ReadDir("."); err != nil {
			return xerrors.Wrapf(err, "list %s", fs.Root())
		}
		return nil
	}
}

// Header is the part of a bucket that can prove it exists and is reachable.
type Header interface {
	Head(ctx context.Context) error
}

func BucketReachable(b Header) CheckFunc {
	return func(ctx context.Context) error { return b.Head(ctx) }
}
