package operation

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace returns the bytes available to unprivileged callers on the
// volume holding path. The value is a snapshot; no reservation is made.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to query free space for %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
