package transfer

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/localsync/internal/checksum"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/option"
)

// equalUnderComparison implements spec §4.4.2: the comparison used by the
// link-dest scan, the reference-directory scan, and the skip-same check.
// candidateInfo is the lstat of the candidate/existing file.
func (e *Engine) equalUnderComparison(candidatePath string, candidateInfo os.FileInfo, srcPath string, srcSize int64, srcMtime time.Time) (bool, error) {
	if candidateInfo.Size() != srcSize {
		return false, nil
	}

	switch {
	case e.Opts.ChecksumAlgorithm != "":
		return e.digestsEqual(candidatePath, srcPath)
	case e.Opts.SizeOnly:
		return true, nil
	case e.Opts.Times:
		if candidateInfo.ModTime().IsZero() || srcMtime.IsZero() {
			return false, nil
		}

		if absDuration(candidateInfo.ModTime().Sub(srcMtime)) > e.Opts.ModifyWindow {
			return false, nil
		}

		return filesByteEqual(candidatePath, srcPath)
	default:
		// Times not preserved and checksum off: always re-copy.
		return false, nil
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}

func (e *Engine) digestsEqual(a, b string) (bool, error) {
	da, err := fileDigest(a, e.checksumAlgorithm())
	if err != nil {
		return false, err
	}

	db, err := fileDigest(b, e.checksumAlgorithm())
	if err != nil {
		return false, err
	}

	return bytes.Equal(da, db), nil
}

func fileDigest(path string, algo checksum.Algorithm) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewIo("open", path, err)
	}
	defer f.Close()

	h, err := checksum.New(algo)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(h, f); err != nil {
		return nil, errs.NewIo("read", path, err)
	}

	return h.Sum(nil), nil
}

func filesByteEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, errs.NewIo("open", a, err)
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, errs.NewIo("open", b, err)
	}
	defer fb.Close()

	const chunkSize = 64 * 1024

	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)

	for {
		na, erra := io.ReadFull(fa, bufA)
		nb, errb := io.ReadFull(fb, bufB)

		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		doneA := erra == io.EOF || erra == io.ErrUnexpectedEOF
		doneB := errb == io.EOF || errb == io.ErrUnexpectedEOF

		if doneA != doneB {
			return false, nil
		}

		if doneA {
			return true, nil
		}

		if erra != nil {
			return false, errs.NewIo("read", a, erra)
		}

		if errb != nil {
			return false, errs.NewIo("read", b, errb)
		}
	}
}

// appendOffset implements spec §4.4.3: when append mode applies and the
// destination is a shorter, non-empty prefix of the source, returns the
// byte offset to resume writing from. Byte-exact verification of the
// existing prefix (append-verify) is left to the caller via
// verifyAppendPrefix, since it needs the destination path too.
func (e *Engine) appendOffset(destInfo os.FileInfo, srcSize int64) (int64, bool) {
	if !e.Opts.Append {
		return 0, false
	}

	if destInfo == nil || destInfo.Size() == 0 || destInfo.Size() >= srcSize {
		return 0, false
	}

	return destInfo.Size(), true
}

// verifyAppendPrefix compares the first n bytes of src and dst for
// byte-exact equality, as required when append-verify is set.
func verifyAppendPrefix(srcPath, dstPath string, n int64) (bool, error) {
	fs, err := os.Open(srcPath)
	if err != nil {
		return false, errs.NewIo("open", srcPath, err)
	}
	defer fs.Close()

	fd, err := os.Open(dstPath)
	if err != nil {
		return false, errs.NewIo("open", dstPath, err)
	}
	defer fd.Close()

	return compareExactPrefix(fs, fd, n)
}

func compareExactPrefix(src, dst *os.File, n int64) (bool, error) {
	const chunkSize = 64 * 1024

	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)

	var read int64
	for read < n {
		want := n - read
		if want > chunkSize {
			want = chunkSize
		}

		na, erra := io.ReadFull(src, bufA[:want])
		nb, errb := io.ReadFull(dst, bufB[:want])

		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		if erra != nil && erra != io.EOF && erra != io.ErrUnexpectedEOF {
			return false, errs.NewIo("read", "append-verify source", erra)
		}

		if errb != nil && errb != io.EOF && errb != io.ErrUnexpectedEOF {
			return false, errs.NewIo("read", "append-verify destination", errb)
		}

		read += int64(na)
	}

	return true, nil
}

// ensureParentDir implements spec §4.4.5 in its "apply" mode: create
// missing ancestors when implied-dirs or mkpath is set, otherwise error.
func ensureParentDir(dstPath string, opts option.Options) error {
	parent := filepath.Dir(dstPath)

	info, err := os.Stat(parent)
	if err == nil {
		if !info.IsDir() {
			return errs.NewInvalidArgument(errs.ReasonReplaceNonDirectoryWithDirectory, parent)
		}

		return nil
	}

	if !os.IsNotExist(err) {
		return errs.NewIo("stat", parent, err)
	}

	if !opts.ImpliedDirs && !opts.Mkpath {
		return errs.NewInvalidArgument(errs.ReasonDirectoryNameUnavailable, parent)
	}

	if err := os.MkdirAll(parent, 0o777); err != nil {
		return errs.NewIo("mkdir", parent, err)
	}

	return nil
}
