//go:build windows

package volumes

import (
	"errors"
	"os"
	"time"
)

// lockExclusive approximates flock with an O_EXCL lock file.
func lockExclusive(lockPath string) (func(), error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return func() {
				_ = f.Close()
				_ = os.Remove(lockPath)
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errors.New("draft lock timeout")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func syncDir(string) error { return nil }
