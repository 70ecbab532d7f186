package common

import (
	"errors"
	"fmt"
)

var (
	ErrNoSpace    = errors.New("no space left on device")
	ErrNoInodes   = errors.New("no free inodes")
	ErrInvalid    = errors.New("invalid argument")
	ErrTooBig     = errors.New("file too large")
	ErrIO         = errors.New("i/o error")
	ErrReadOnly   = errors.New("read-only file system")
	ErrBadMagic   = errors.New("bad magic number")
	ErrNotMounted = errors.New("volume is not mounted")
)

// CorruptError reports an on-disk invariant that no longer holds, such as a
// block address outside the volume or a non-zero slot where a free one was
// expected. It is fatal: the operation that hit it must be abandoned and
// never retried.
type CorruptError struct {
	Op     string
	Addr   Bnum
	Detail string
}

func (err *CorruptError) Error() string {
	return fmt.Sprintf("%s: corrupt file system at block %d: %s",
		err.Op, err.Addr, err.Detail)
}

func Corrupt(op string, addr Bnum, format string, a ...interface{}) error {
	return &CorruptError{Op: op, Addr: addr, Detail: fmt.Sprintf(format, a...)}
}

// IsFatal reports whether err carries a consistency violation.
func IsFatal(err error) bool {
	var cerr *CorruptError
	return errors.As(err, &cerr)
}

// IOError wraps a failed block transfer so that errors.Is(err, ErrIO) holds.
func IOError(op string, blkno Bnum, err error) error {
	return fmt.Errorf("%s block %d: %w: %v", op, blkno, ErrIO, err)
}
