//go:build !unix

package hostlock

import (
	stderrors "errors"
	"os"
)

var errLocked = stderrors.New("lock held by another process")

func tryLock(*os.File, bool) error {
	return stderrors.New("host locking is only supported on unix")
}

func unlock(*os.File) error { return nil }
