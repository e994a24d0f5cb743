// Package engine owns the run-scoped mutable state a traversal/transfer
// run shares: summary counters, the event ledger, the hard-link tracker,
// the created-entries rollback log, the deferred deletion/update queues,
// and the inactivity-timeout watchdog. Every piece here is single-owner
// and accessed only by the driver, per spec §5's shared-resource policy.
package engine

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/option"
)

// CreatedKind classifies an entry recorded in the rollback log.
type CreatedKind int

const (
	CreatedFile CreatedKind = iota
	CreatedDir
	CreatedSymlink
	CreatedFifo
	CreatedDevice
	CreatedHardlink
)

// CreatedEntry is one entry this run created, tracked solely so a
// Timeout can roll it back (spec §4.8, §4.11).
type CreatedEntry struct {
	Path string
	Kind CreatedKind
}

// HardLinkKey identifies a source inode for the hard-link tracker.
type HardLinkKey struct {
	Device uint64
	Inode  uint64
}

// DeferredDeletion is one directory's pending deletion sweep, queued when
// delete-timing is Delay or After.
type DeferredDeletion struct {
	DestinationDir string
	RelativeDir    string
	KeepNames      map[string]bool

	// Timing distinguishes Delay (flushed once the owning source tree's
	// traversal finishes) from After (flushed once every source is done),
	// per spec §5's ordering guarantee.
	Timing option.DeleteTiming

	// Decide reports whether a destination-only entry may be removed. It
	// is a frozen filter evaluation captured while the owning directory's
	// dir-merge layers were still live (see filter.Engine.EvaluateSnapshot),
	// since by flush time the traversal has moved on and the live layer
	// stacks have already popped.
	Decide func(relPath string, isDir bool) bool
}

// DeferredUpdate is one pending staging-guard commit, queued under
// delay-updates. Commit performs the actual rename+metadata application;
// Context only sequences when it runs.
type DeferredUpdate struct {
	FinalPath string
	Commit    func() error

	committed bool
}

// Context is the run-scoped state shared by the traversal driver and the
// file transfer engine. One Context is created per Run and discarded at
// the end.
type Context struct {
	Options option.Options
	Logger  *slog.Logger

	Ledger  Ledger
	Summary Summary

	hardLinks map[HardLinkKey]string

	created []CreatedEntry

	deferredDeletions []DeferredDeletion
	deferredUpdates   []*DeferredUpdate

	deletedByLimit int

	lastProgress atomic.Int64 // unix nanos
}

// New builds a fresh run Context. If opts.CollectEvents is false, emitted
// records are dropped instead of retained.
func New(opts option.Options, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}

	var ledger Ledger
	if opts.CollectEvents {
		ledger = NewLedger()
	} else {
		ledger = NewDiscardLedger()
	}

	c := &Context{
		Options:   opts,
		Logger:    logger,
		Ledger:    ledger,
		hardLinks: make(map[HardLinkKey]string),
	}
	c.Touch()

	return c
}

// Touch resets the inactivity-timeout clock; every progress-making
// operation must call this.
func (c *Context) Touch() {
	c.lastProgress.Store(time.Now().UnixNano())
}

// CheckTimeout reports a *errs.Timeout if more than Options.Timeout has
// elapsed since the last Touch. A zero Timeout disables the watchdog.
func (c *Context) CheckTimeout() error {
	if c.Options.Timeout <= 0 {
		return nil
	}

	last := time.Unix(0, c.lastProgress.Load())
	if elapsed := time.Since(last); elapsed > c.Options.Timeout {
		return &errs.Timeout{Duration: elapsed.String()}
	}

	return nil
}

// Emit forwards rec to the ledger, in call order.
func (c *Context) Emit(rec Record) {
	c.Ledger.Emit(rec)
}

// RecordCreated appends a newly-created entry to the rollback log. Only
// entries created in this run belong here — pre-existing destination
// entries are never rolled back.
func (c *Context) RecordCreated(path string, kind CreatedKind) {
	c.created = append(c.created, CreatedEntry{Path: path, Kind: kind})
}

// Rollback unlinks/rmdirs every created entry in reverse order,
// best-effort. Only a Timeout error triggers this (spec §4.8).
func (c *Context) Rollback() {
	for i := len(c.created) - 1; i >= 0; i-- {
		e := c.created[i]

		switch e.Kind {
		case CreatedDir:
			os.Remove(e.Path) //nolint:errcheck // best-effort rollback
		default:
			os.Remove(e.Path) //nolint:errcheck // best-effort rollback
		}
	}

	c.created = nil
}

// HardLinkLookup returns the destination path already recorded for a
// source (device, inode) pair, if any.
func (c *Context) HardLinkLookup(key HardLinkKey) (string, bool) {
	p, ok := c.hardLinks[key]
	return p, ok
}

// HardLinkRegister records the destination path materialized for a
// source (device, inode) pair, so later entries sharing that inode can
// hard-link to it instead of re-transferring.
func (c *Context) HardLinkRegister(key HardLinkKey, path string) {
	c.hardLinks[key] = path
}

// QueueDeletion enqueues a directory's deletion sweep for later (Delay or
// After timing).
func (c *Context) QueueDeletion(d DeferredDeletion) {
	c.deferredDeletions = append(c.deferredDeletions, d)
}

// DeferredDeletions returns the queued deletion sweeps, in enqueue order.
func (c *Context) DeferredDeletions() []DeferredDeletion {
	return c.deferredDeletions
}

// TakeDeferredDeletions removes and returns every queued deletion sweep
// tagged with timing, in enqueue order, leaving the rest queued.
func (c *Context) TakeDeferredDeletions(timing option.DeleteTiming) []DeferredDeletion {
	var taken, remaining []DeferredDeletion

	for _, d := range c.deferredDeletions {
		if d.Timing == timing {
			taken = append(taken, d)
		} else {
			remaining = append(remaining, d)
		}
	}

	c.deferredDeletions = remaining

	return taken
}

// QueueUpdate enqueues a staging-guard commit for later (delay-updates).
func (c *Context) QueueUpdate(u *DeferredUpdate) {
	c.deferredUpdates = append(c.deferredUpdates, u)
}

// CommitDeferredFor looks for a not-yet-committed deferred update whose
// final path matches path and commits it immediately. Used when a
// subsequent hard-link attempt targets a staging path that hasn't been
// committed yet (spec §4.4.7's lazy-commit path): NotFound on the link
// attempt should retry once after this succeeds.
func (c *Context) CommitDeferredFor(path string) (bool, error) {
	for _, u := range c.deferredUpdates {
		if u.committed || u.FinalPath != path {
			continue
		}

		if err := u.Commit(); err != nil {
			return false, err
		}

		u.committed = true

		return true, nil
	}

	return false, nil
}

// FlushDeferredUpdates commits every remaining deferred update in FIFO
// order, at end of run.
func (c *Context) FlushDeferredUpdates() error {
	for _, u := range c.deferredUpdates {
		if u.committed {
			continue
		}

		if err := u.Commit(); err != nil {
			return err
		}

		u.committed = true
	}

	return nil
}

// NoteDeletionSkippedByLimit increments the max-deletions skip counter.
// The limit itself is checked by DeletionLimitReached.
func (c *Context) NoteDeletionSkippedByLimit() {
	c.deletedByLimit++
}

// DeletionsSkippedByLimit returns the count of deletions withheld because
// max-deletions was reached.
func (c *Context) DeletionsSkippedByLimit() int {
	return c.deletedByLimit
}

// DeletionLimitReached reports whether deleting one more entry would
// exceed Options.MaxDeletions (0 means unlimited).
func (c *Context) DeletionLimitReached() bool {
	if c.Options.MaxDeletions <= 0 {
		return false
	}

	return int(c.Summary.ItemsDeleted) >= c.Options.MaxDeletions
}

// The AddXxx helpers add to the byte counters with saturating arithmetic.
// The per-entry counters (files, directories, symlinks, deletions, ...)
// are incremented directly on Summary by their callers.

func (c *Context) AddCopiedBytes(n int64)      { addSat(&c.Summary.BytesCopied, clampU64(n)) }
func (c *Context) AddMatchedBytes(n int64)     { addSat(&c.Summary.BytesMatched, clampU64(n)) }
func (c *Context) AddCompressedBytes(n int64)  { addSat(&c.Summary.BytesCompressed, clampU64(n)) }
func (c *Context) AddSentBytes(n int64)        { addSat(&c.Summary.BytesSent, clampU64(n)) }
func (c *Context) AddReceivedBytes(n int64)    { addSat(&c.Summary.BytesReceived, clampU64(n)) }
func (c *Context) AddTransferredFileSize(n int64) {
	addSat(&c.Summary.BytesTransferredFileSize, clampU64(n))
}

func clampU64(n int64) uint64 {
	if n < 0 {
		return 0
	}

	return uint64(n)
}
