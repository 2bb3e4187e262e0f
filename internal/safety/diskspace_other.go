//go:build !linux

package safety

import "fmt"

// freeDiskBytes has no portable implementation outside Linux; callers treat
// the error as "unverifiable" rather than a hard failure.
func freeDiskBytes(path string) (int64, error) {
	return 0, fmt.Errorf("disk space check unsupported on this platform")
}
