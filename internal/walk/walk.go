// Package walk implements the traversal driver (spec §4.3): a
// depth-first, pre-order walk of each source operand that evaluates the
// filter engine per entry, classifies every directory child into exactly
// one planned action, dispatches to package transfer for the actual
// content/metadata work, and times the deletion sweep per the configured
// delete-before/during/delay/after policy. It is the one caller that
// knows about all of package operand, package filter, package transfer,
// and package engine at once — every other package only knows its own
// slice of the problem.
package walk

import (
	"context"
	"os"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/filter"
	"github.com/tonimelisma/localsync/internal/operand"
	"github.com/tonimelisma/localsync/internal/option"
	"github.com/tonimelisma/localsync/internal/transfer"
)

// Driver owns the collaborators a traversal needs: the compiled filter
// program, the per-file transfer engine, and the run-scoped Context they
// both report into.
type Driver struct {
	Opts   option.Options
	Filter *filter.Engine
	Xfer   *transfer.Engine
	RC     *engine.Context
}

// New builds a traversal Driver for one run.
func New(opts option.Options, f *filter.Engine, xfer *transfer.Engine, rc *engine.Context) *Driver {
	return &Driver{Opts: opts, Filter: f, Xfer: xfer, RC: rc}
}

// Run walks every source in plan against destRoot (the destination
// operand's resolved absolute path), then flushes the deferred deletion
// and staging-commit queues per spec §5's ordering guarantees: Delay
// sweeps drain after each source tree finishes, After sweeps and
// delay-updates commits drain once every source is done.
func (d *Driver) Run(ctx context.Context, plan *operand.Plan, destRoot string) error {
	if err := d.prepareDestRoot(plan, destRoot); err != nil {
		return err
	}

	destDirRequired := d.requiresDestDirectory(plan) || dirExists(destRoot)

	for _, src := range plan.Sources {
		if err := d.runSource(ctx, src, destDirRequired, destRoot); err != nil {
			return err
		}

		if err := d.flushTiming(ctx, option.DeleteTimingDelay); err != nil {
			return err
		}
	}

	if err := d.flushTiming(ctx, option.DeleteTimingAfter); err != nil {
		return err
	}

	// Any Delay entries queued by a source that itself returned an error
	// partway through are simply left unflushed; a failed run doesn't
	// promise a clean deletion sweep. On the success path this is empty.
	if err := d.flushTiming(ctx, option.DeleteTimingDelay); err != nil {
		return err
	}

	return d.RC.FlushDeferredUpdates()
}

// prepareDestRoot creates destRoot when the plan requires it to be a
// directory and it doesn't exist yet (spec §4.4.5's implied-dirs/mkpath
// rule applied to the destination operand itself).
func (d *Driver) prepareDestRoot(plan *operand.Plan, destRoot string) error {
	info, err := os.Stat(destRoot)
	if err == nil {
		if !info.IsDir() && d.requiresDestDirectory(plan) {
			return errs.NewInvalidArgument(errs.ReasonDestinationMustBeDirectory, destRoot)
		}

		return nil
	}

	if !os.IsNotExist(err) {
		return errs.NewIo("stat", destRoot, err)
	}

	if !d.requiresDestDirectory(plan) {
		return nil // single-source literal-rename case; runSource creates what it needs
	}

	if !d.Opts.ImpliedDirs && !d.Opts.Mkpath {
		return errs.NewInvalidArgument(errs.ReasonDestinationMustBeDirectory, destRoot)
	}

	if err := os.MkdirAll(destRoot, 0o777); err != nil {
		return errs.NewIo("mkdir", destRoot, err)
	}

	d.RC.RecordCreated(destRoot, engine.CreatedDir)

	return nil
}

// requiresDestDirectory reports whether the plan's shape forces the
// destination to be (or become) a directory: multiple sources, an
// explicit trailing-separator destination, any copy_contents source, or
// --relative (which always preserves structure under destRoot).
func (d *Driver) requiresDestDirectory(plan *operand.Plan) bool {
	if len(plan.Sources) > 1 || plan.Destination.ForceDirectory || d.Opts.RelativePaths {
		return true
	}

	for _, s := range plan.Sources {
		if s.CopyContents {
			return true
		}
	}

	return false
}

// effectiveTiming resolves the delete-timing default: a bare --delete
// with no explicit before/during/delay/after flag behaves as During.
func (d *Driver) effectiveTiming() option.DeleteTiming {
	if d.Opts.DeleteTiming == option.DeleteTimingNone && d.Opts.Delete {
		return option.DeleteTimingDuring
	}

	return d.Opts.DeleteTiming
}

func (d *Driver) deleteEnabled() bool {
	return d.Opts.Delete
}

func (d *Driver) flushTiming(ctx context.Context, timing option.DeleteTiming) error {
	for _, dd := range d.RC.TakeDeferredDeletions(timing) {
		if err := d.RC.CheckTimeout(); err != nil {
			return err
		}

		if err := d.Xfer.SweepDirectory(d.RC, dd, dd.Decide); err != nil {
			return err
		}
	}

	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
