// Package filter implements the include/exclude/protect/risk/show/hide rule
// engine: a compiled program of segments and per-directory dir-merge
// references, evaluated against a path under a transfer-or-deletion
// context. Rules cascade through an ordered, arbitrarily-deep instruction
// program rather than a fixed number of layers.
package filter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// Action is the effect a matching rule has on the evaluation outcome.
type Action int

const (
	ActionInclude Action = iota
	ActionExclude
	ActionProtect
	ActionRisk
	ActionShow
	ActionHide
)

// Side restricts a rule to the sending (source-tree) or receiving
// (destination-tree) side of the decision, or both.
type Side int

const (
	SideBoth Side = iota
	SideSender
	SideReceiver
)

// Context selects which outcome field an evaluation is deciding: whether an
// entry may be transferred, or whether it may be deleted during the
// deletion sweep.
type Context int

const (
	ContextTransfer Context = iota
	ContextDeletion
)

// Outcome is the running decision state threaded through one path's
// evaluation.
type Outcome struct {
	TransferAllowed bool
	Protected       bool
}

// AllowsTransfer reports whether the entry may be copied.
func (o Outcome) AllowsTransfer() bool { return o.TransferAllowed }

// AllowsDeletion reports whether the entry may be removed in the deletion
// sweep, honoring the deleteExcluded override (consult protected only).
func (o Outcome) AllowsDeletion(deleteExcluded bool) bool {
	if deleteExcluded {
		return !o.Protected
	}

	return o.TransferAllowed && !o.Protected
}

// rule is one compiled include/exclude/protect/risk/show/hide instruction.
type rule struct {
	action  Action
	dirOnly bool
	side    Side
	match   *ignore.GitIgnore
}

func (r *rule) matches(path string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}

	p := filepath.ToSlash(path)
	if isDir {
		p += "/"
	}

	return r.match.MatchesPath(p)
}

func (r *rule) appliesToSide(ctx Context) bool {
	switch r.action {
	case ActionShow, ActionHide:
		if ctx != ContextTransfer {
			return false
		}
	case ActionProtect, ActionRisk:
		if ctx != ContextDeletion {
			return false
		}
	}

	if r.side == SideBoth {
		return true
	}

	active := sideForContext(ctx, r.action)

	return r.side == active
}

// sideForContext returns the side that is "active" for this action and
// context: show/hide only matter to the sender (transfer), protect/risk
// only matter to the receiver (deletion).
func sideForContext(ctx Context, action Action) Side {
	switch action {
	case ActionShow, ActionHide:
		return SideSender
	case ActionProtect, ActionRisk:
		return SideReceiver
	default:
		if ctx == ContextDeletion {
			return SideReceiver
		}

		return SideSender
	}
}

// instruction is one entry of the compiled program: either a literal rule
// segment or a reference to a dir-merge slot evaluated per-directory.
type instruction struct {
	rule        *rule // nil for a dirMergeRef
	dirMergeRef int   // index into Engine.specs, valid when rule == nil
}

// Engine holds a compiled filter program plus the per-directory dir-merge
// layer stacks accumulated as the traversal descends.
type Engine struct {
	logger *slog.Logger

	program []instruction
	specs   []*dirMergeSpec

	globalMarkers []string // global exclude-if-present marker names

	// persistent holds, per dir-merge spec index, the stack of layers
	// pushed by ancestor directories still "inside" during the walk.
	persistent [][]*Layer
}

// Layer is the set of rules (and markers) a single parsed dir-merge file
// contributes while traversal is inside its directory. Exported so a
// caller queuing a deferred deletion sweep can hold a frozen reference
// to the layers active at queue time (see EvaluateSnapshot).
type Layer struct {
	rules   []*rule
	markers []string
}

// New compiles program from raw filter-program source lines (one
// directive per line, in the syntax documented in compile.go).
func New(lines []string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	e := &Engine{logger: logger}

	if err := e.compileProgram(lines); err != nil {
		return nil, fmt.Errorf("filter: compile program: %w", err)
	}

	e.persistent = make([][]*Layer, len(e.specs))

	return e, nil
}

// EnterDir is called when the traversal descends into dirPath (an absolute
// or sync-root-relative path used to locate dir-merge files). It parses and
// pushes any dir-merge files present in dirPath, returning the ephemeral
// (non-inherited) layers active only for this directory's own entries and a
// pop function the caller must invoke exactly once when leaving dirPath,
// on every exit path.
func (e *Engine) EnterDir(dirPath string) (ephemeral []*Layer, pop func(), err error) {
	var pushed []int

	for i, spec := range e.specs {
		l, present, perr := spec.loadLayer(dirPath)
		if perr != nil {
			return nil, func() {}, fmt.Errorf("filter: dir-merge %q in %q: %w", spec.pattern, dirPath, perr)
		}

		if !present {
			continue
		}

		if spec.opts.Inherit {
			e.persistent[i] = append(e.persistent[i], l)
			pushed = append(pushed, i)
		} else {
			ephemeral = append(ephemeral, l)
		}
	}

	popFn := func() {
		for _, i := range pushed {
			stack := e.persistent[i]
			e.persistent[i] = stack[:len(stack)-1]
		}
	}

	return ephemeral, popFn, nil
}

// Evaluate runs the compiled program against path (isDir indicates whether
// the entry is a directory) under ctx, folding in the active persistent and
// ephemeral dir-merge layers in program order.
func (e *Engine) Evaluate(path string, isDir bool, ctx Context, ephemeral []*Layer) Outcome {
	out := Outcome{TransferAllowed: true, Protected: false}

	for _, ins := range e.program {
		if ins.rule != nil {
			applyRule(&out, ins.rule, path, isDir, ctx)
			continue
		}

		for _, l := range e.persistent[ins.dirMergeRef] {
			applyRules(&out, l.rules, path, isDir, ctx)
		}
	}

	for _, l := range ephemeral {
		applyRules(&out, l.rules, path, isDir, ctx)
	}

	return out
}

// EvaluateSnapshot freezes the engine's currently-active persistent
// dir-merge layers (plus the given ephemeral ones) into a standalone
// evaluator function. A caller queuing a Delay/After deletion sweep calls
// this while still inside the owning directory's EnterDir/pop scope,
// since by the time the sweep actually runs the traversal has moved on
// and the live layer stacks have already popped. Each persistent stack is
// copied element by element: a push after a pop reuses the live stack's
// backing array, so sharing it would let the frozen view observe the new
// layer.
func (e *Engine) EvaluateSnapshot(ephemeral []*Layer) func(path string, isDir bool, ctx Context) Outcome {
	persistent := make([][]*Layer, len(e.persistent))
	for i, stack := range e.persistent {
		persistent[i] = append([]*Layer(nil), stack...)
	}

	eph := append([]*Layer(nil), ephemeral...)

	return func(path string, isDir bool, ctx Context) Outcome {
		out := Outcome{TransferAllowed: true, Protected: false}

		for _, ins := range e.program {
			if ins.rule != nil {
				applyRule(&out, ins.rule, path, isDir, ctx)
				continue
			}

			for _, l := range persistent[ins.dirMergeRef] {
				applyRules(&out, l.rules, path, isDir, ctx)
			}
		}

		for _, l := range eph {
			applyRules(&out, l.rules, path, isDir, ctx)
		}

		return out
	}
}

func applyRules(out *Outcome, rules []*rule, path string, isDir bool, ctx Context) {
	for _, r := range rules {
		applyRule(out, r, path, isDir, ctx)
	}
}

func applyRule(out *Outcome, r *rule, path string, isDir bool, ctx Context) {
	if !r.appliesToSide(ctx) {
		return
	}

	if !r.matches(path, isDir) {
		return
	}

	switch r.action {
	case ActionInclude:
		out.TransferAllowed = true
	case ActionExclude:
		out.TransferAllowed = false
	case ActionProtect:
		out.Protected = true
	case ActionRisk:
		out.Protected = false
	case ActionShow:
		out.TransferAllowed = true
	case ActionHide:
		out.TransferAllowed = false
	}
}

// ExcludedByPresence reports whether dirPath should be excluded from the
// walk because one of its exclude-if-present markers (global or from any
// active layer) exists in it. Exclusion here means the directory is
// skipped entirely: no child entries are classified.
func (e *Engine) ExcludedByPresence(dirPath string, ephemeral []*Layer) bool {
	for _, m := range e.globalMarkers {
		if markerExists(dirPath, m) {
			return true
		}
	}

	for _, stack := range e.persistent {
		for _, l := range stack {
			for _, m := range l.markers {
				if markerExists(dirPath, m) {
					return true
				}
			}
		}
	}

	for _, l := range ephemeral {
		for _, m := range l.markers {
			if markerExists(dirPath, m) {
				return true
			}
		}
	}

	return false
}

func markerExists(dirPath, marker string) bool {
	_, err := os.Stat(filepath.Join(dirPath, marker))
	return err == nil
}
