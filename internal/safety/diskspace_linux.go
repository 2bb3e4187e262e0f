//go:build linux

package safety

import "syscall"

// freeDiskBytes reports bytes free on the filesystem backing path.
func freeDiskBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
