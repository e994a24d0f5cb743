// Package operand parses the CLI's ordered operand list into a Plan: the
// classified source/destination pair the traversal driver consumes. This
// is the one piece of "argument handling" the core owns — everything else
// about flag parsing is deliberately out of scope (see the options record
// in package option, built by the ambient CLI layer).
package operand

import (
	"strings"

	"github.com/tonimelisma/localsync/internal/errs"
)

// Operand is one source argument, classified for traversal.
type Operand struct {
	Path string
	// CopyContents is true iff the operand text ended in a path separator:
	// copy the directory's children, not the directory itself.
	CopyContents bool
	// RelativePrefixComponents is the number of path components before a
	// literal "." marker, for --relative semantics. Negative means absent.
	RelativePrefixComponents int
}

// DestinationSpec is the single destination argument.
type DestinationSpec struct {
	Path string
	// ForceDirectory mirrors the trailing-separator rule: the destination
	// must be (or become) a directory.
	ForceDirectory bool
}

// Plan is the immutable result of parsing the operand list. It is built
// once per invocation and never mutated afterward.
type Plan struct {
	Sources     []Operand
	Destination DestinationSpec
}

// Parse classifies an ordered operand string list into a Plan. All but the
// last operand are sources; the last is the destination. Returns a typed
// *errs.InvalidArgument or errs.MissingSourceOperands on rejection.
func Parse(args []string) (*Plan, error) {
	if len(args) < 2 {
		return nil, errs.MissingSourceOperands
	}

	sourceArgs, destArg := args[:len(args)-1], args[len(args)-1]

	if destArg == "" {
		return nil, errs.NewInvalidArgument(errs.ReasonEmptyDestination, destArg)
	}

	if isRemote(destArg) {
		return nil, errs.NewInvalidArgument(errs.ReasonRemoteOperandUnsupported, destArg)
	}

	sources := make([]Operand, 0, len(sourceArgs))

	for _, raw := range sourceArgs {
		if raw == "" {
			return nil, errs.NewInvalidArgument(errs.ReasonEmptySource, raw)
		}

		if isRemote(raw) {
			return nil, errs.NewInvalidArgument(errs.ReasonRemoteOperandUnsupported, raw)
		}

		sources = append(sources, parseSource(raw))
	}

	dest := DestinationSpec{
		Path:           strings.TrimRight(destArg, "/\\"),
		ForceDirectory: hasTrailingSeparator(destArg),
	}
	if dest.Path == "" {
		// The destination was entirely separators, e.g. "/" — keep it as root.
		dest.Path = destArg
	}

	return &Plan{Sources: sources, Destination: dest}, nil
}

// parseSource classifies one source operand: trailing-separator detection
// and the --relative "." marker.
func parseSource(raw string) Operand {
	o := Operand{
		Path:                     raw,
		CopyContents:             hasTrailingSeparator(raw),
		RelativePrefixComponents: -1,
	}

	slash := strings.ReplaceAll(raw, "\\", "/")
	if idx := findRelativeMarker(slash); idx >= 0 {
		o.RelativePrefixComponents = idx
	}

	return o
}

// findRelativeMarker returns the number of path components before a
// standalone "." component, or -1 if no such marker is present.
func findRelativeMarker(slashPath string) int {
	components := strings.Split(slashPath, "/")

	for i, c := range components {
		if c == "." {
			return i
		}
	}

	return -1
}

func hasTrailingSeparator(s string) bool {
	return strings.HasSuffix(s, "/") || strings.HasSuffix(s, "\\")
}

// isRemote reports whether raw matches rsync-style remote syntax: an
// rsync:// URL, a double-colon module reference, or a single colon whose
// pre-colon segment is not a Windows drive letter / extended prefix and
// contains no path separator.
func isRemote(raw string) bool {
	if strings.HasPrefix(raw, "rsync://") {
		return true
	}

	if strings.Contains(raw, "::") {
		return true
	}

	if isExtendedWindowsPrefix(raw) {
		return false
	}

	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return false
	}

	pre := raw[:idx]

	if isWindowsDriveLetter(pre) {
		return false
	}

	return !strings.ContainsAny(pre, "/\\")
}

// isWindowsDriveLetter reports whether s is a single ASCII letter, the
// drive-letter form that precedes a Windows path's colon (e.g. "C").
func isWindowsDriveLetter(s string) bool {
	if len(s) != 1 {
		return false
	}

	c := s[0]

	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isExtendedWindowsPrefix reports whether raw begins with one of the
// extended-length or UNC Windows path prefixes.
func isExtendedWindowsPrefix(raw string) bool {
	for _, prefix := range []string{`\\?\`, `\\.\`, `\\`} {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}

	return false
}
