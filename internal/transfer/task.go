package transfer

import "github.com/tonimelisma/localsync/internal/meta"

// FileTask is one transfer candidate handed down by the traversal
// driver, with source metadata already captured so the decision machine
// never has to re-stat the source.
type FileTask struct {
	RelPath string // path relative to both tree roots
	SrcPath string
	DstPath string
	SrcSnap meta.Snapshot
}
