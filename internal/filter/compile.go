package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DirMergeOptions controls how a per-directory filter file is parsed and
// scoped, mirroring the modifier letters rsync's `merge`/`dir-merge`
// directives accept.
type DirMergeOptions struct {
	Inherit        bool
	ExcludeSelf    bool
	WhitespaceMode bool // whitespace-tokenized instead of line-oriented
	EnforcedKind   *Action
	AllowListClear bool
	AnchorToRoot   bool
	Side           Side
}

// dirMergeSpec is one compiled `dir-merge`/`merge` directive: a file-name
// pattern plus the options controlling how matches are parsed.
type dirMergeSpec struct {
	pattern string
	opts    DirMergeOptions

	// visiting guards against a dir-merge file that (directly or via a
	// recursive merge directive) references itself.
	visiting map[string]bool
}

// loadLayer parses the dir-merge file for this spec in dirPath, if
// present. present is false (with no error) when the file does not exist.
func (s *dirMergeSpec) loadLayer(dirPath string) (l *Layer, present bool, err error) {
	full := filepath.Join(dirPath, s.pattern)

	info, statErr := os.Stat(full)
	if statErr != nil {
		return nil, false, nil
	}

	if info.IsDir() {
		return nil, false, nil
	}

	if s.visiting == nil {
		s.visiting = make(map[string]bool)
	}

	canonical, err := filepath.Abs(full)
	if err != nil {
		canonical = full
	}

	if s.visiting[canonical] {
		return nil, false, fmt.Errorf("cyclic dir-merge reference at %q", full)
	}

	s.visiting[canonical] = true
	defer delete(s.visiting, canonical)

	rules, markers, err := parseDirMergeFile(full, s.opts)
	if err != nil {
		return nil, false, err
	}

	if s.opts.ExcludeSelf {
		r, rerr := compileRule(ActionExclude, s.pattern, s.opts.Side)
		if rerr != nil {
			return nil, false, rerr
		}

		rules = append(rules, r)
	}

	return &Layer{rules: rules, markers: markers}, true, nil
}

// parseDirMergeFile reads a dir-merge file and compiles its lines into
// rules, honoring the whitespace/line parser choice, enforced kind, and
// list-clearing permission.
func parseDirMergeFile(path string, opts DirMergeOptions) (rules []*rule, markers []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var tokens []string

	if opts.WhitespaceMode {
		data, rerr := io.ReadAll(f)
		if rerr != nil {
			return nil, nil, fmt.Errorf("read: %w", rerr)
		}

		tokens = strings.Fields(string(data))
	} else {
		scanner := bufio.NewScanner(f)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || (opts.EnforcedKind == nil && strings.HasPrefix(line, "#")) {
				continue
			}

			tokens = append(tokens, line)
		}

		if serr := scanner.Err(); serr != nil {
			return nil, nil, fmt.Errorf("scan: %w", serr)
		}
	}

	for _, tok := range tokens {
		if tok == "!" || tok == "clear" {
			if !opts.AllowListClear {
				return nil, nil, fmt.Errorf("list-clear %q not permitted in this dir-merge file", tok)
			}

			rules = nil

			continue
		}

		action, pattern, ok := splitDirective(tok, opts)
		if !ok {
			continue
		}

		if pattern == "" {
			continue
		}

		side := opts.Side

		r, cerr := compileRule(action, pattern, side)
		if cerr != nil {
			return nil, nil, cerr
		}

		rules = append(rules, r)
	}

	return rules, markers, nil
}

// splitDirective resolves one token from a dir-merge file into an action
// and bare pattern. When opts.EnforcedKind is set (by the `-`/`+` modifiers
// or the CVS bundle), every token is forced to that action with no keyword
// parsing.
func splitDirective(tok string, opts DirMergeOptions) (Action, string, bool) {
	if opts.EnforcedKind != nil {
		return *opts.EnforcedKind, tok, true
	}

	switch {
	case strings.HasPrefix(tok, "+ "):
		return ActionInclude, strings.TrimSpace(tok[2:]), true
	case strings.HasPrefix(tok, "- "):
		return ActionExclude, strings.TrimSpace(tok[2:]), true
	case strings.HasPrefix(tok, "P "):
		return ActionProtect, strings.TrimSpace(tok[2:]), true
	case strings.HasPrefix(tok, "R "):
		return ActionRisk, strings.TrimSpace(tok[2:]), true
	case strings.HasPrefix(tok, "S "):
		return ActionShow, strings.TrimSpace(tok[2:]), true
	case strings.HasPrefix(tok, "H "):
		return ActionHide, strings.TrimSpace(tok[2:]), true
	default:
		// Bare pattern with no keyword defaults to exclude, matching the
		// plain .cvsignore / bare-pattern-file convention.
		return ActionExclude, tok, true
	}
}

// compileRule normalizes pattern and produces a rule backed by a
// go-gitignore matcher, treated as an external glob-matching dependency.
func compileRule(action Action, pattern string, side Side) (*rule, error) {
	dirOnly := strings.HasSuffix(pattern, "/")
	anchored := strings.HasPrefix(pattern, "/")

	core := strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
	if core == "" {
		return nil, fmt.Errorf("empty filter pattern")
	}

	line := core
	if anchored {
		line = "/" + core
	}

	if dirOnly {
		line += "/"
	}

	gi := ignore.CompileIgnoreLines(line)

	return &rule{
		action:  action,
		dirOnly: dirOnly,
		side:    side,
		match:   gi,
	}, nil
}

// compileProgram parses the raw filter-program lines into the engine's
// instruction list, resolving merge/dir-merge/exclude-if-present/clear
// directives. Syntax (documented here, not in SPEC_FULL.md's table, since
// it is this engine's private surface — the CLI layer is responsible for
// handing the core a pre-split slice of lines in this syntax):
//
//	+ pattern            include
//	- pattern            exclude
//	P pattern            protect
//	R pattern            risk
//	S pattern            show
//	H pattern            hide
//	! | clear            clear accumulated rules (build-time, not runtime)
//	dir-merge[,MODS] FILE   per-directory rules, pushed/popped with descent
//	merge[,MODS] FILE       same as dir-merge but not inherited by subdirectories
//	exclude-if-present NAME directory-skip marker
func (e *Engine) compileProgram(lines []string) error {
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case line == "!" || line == "clear":
			e.program = nil
		case strings.HasPrefix(line, "exclude-if-present "):
			e.globalMarkers = append(e.globalMarkers, strings.TrimSpace(line[len("exclude-if-present "):]))
		case strings.HasPrefix(line, "dir-merge"):
			if err := e.addDirMerge(line, "dir-merge"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "merge"):
			if err := e.addDirMerge(line, "merge"); err != nil {
				return err
			}
		default:
			action, pattern, ok := splitDirective(line, DirMergeOptions{})
			if !ok {
				continue
			}

			r, err := compileRule(action, pattern, SideBoth)
			if err != nil {
				return fmt.Errorf("rule %q: %w", line, err)
			}

			e.program = append(e.program, instruction{rule: r})
		}
	}

	return nil
}

// addDirMerge parses a `dir-merge[,MODS] FILE` or `merge[,MODS] FILE`
// directive and registers a new dirMergeSpec instruction. `merge` behaves
// like a non-inheriting, single-shot dir-merge rooted at program-build
// time; here both keywords push a spec, differing only in default
// modifiers, following the same "one constructor, shared shape" pattern
// used for include/exclude rule compilation above.
func (e *Engine) addDirMerge(line, keyword string) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, keyword))

	mods := ""
	if strings.HasPrefix(rest, ",") {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}

		mods = rest[1:end]
		rest = strings.TrimSpace(rest[end:])
	}

	// The CVS bundle reads .cvsignore when no file name is given.
	if rest == "" && strings.ContainsAny(mods, "cC") {
		rest = ".cvsignore"
	}

	if rest == "" {
		return fmt.Errorf("dir-merge directive %q missing file name", line)
	}

	opts := DirMergeOptions{
		Inherit:        keyword == "dir-merge",
		AllowListClear: true,
	}

	applyModifiers(&opts, mods)

	spec := &dirMergeSpec{pattern: rest, opts: opts}
	e.specs = append(e.specs, spec)
	e.program = append(e.program, instruction{dirMergeRef: len(e.specs) - 1})

	return nil
}

// applyModifiers folds single-letter dir-merge modifiers into opts,
// including the CVS-compatibility bundle ('c', also accepted as 'C'):
// whitespace parser, no inheritance, list-clearing allowed, enforced
// exclude. addDirMerge defaults the file name to .cvsignore when the bundle
// is given without one.
func applyModifiers(opts *DirMergeOptions, mods string) {
	for _, m := range mods {
		switch m {
		case 'e':
			opts.ExcludeSelf = true
		case 'n':
			opts.Inherit = false
		case 'w':
			opts.WhitespaceMode = true
		case '-':
			kind := ActionExclude
			opts.EnforcedKind = &kind
		case '+':
			kind := ActionInclude
			opts.EnforcedKind = &kind
		case 's':
			opts.Side = SideSender
		case 'r':
			opts.Side = SideReceiver
		case 'c', 'C':
			opts.WhitespaceMode = true
			opts.Inherit = false
			opts.AllowListClear = true

			kind := ActionExclude
			opts.EnforcedKind = &kind
		}
	}
}

