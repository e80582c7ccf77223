//go:build !windows

package redolog

import "golang.org/x/sys/unix"

// availableMB reports free disk space at dir in megabytes, used to
// preemptively evict the oldest segment before a write would push the
// filesystem below min_available_disk_space_threshold_mb.
func availableMB(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	avail := uint64(st.Bavail) * uint64(st.Bsize)
	return int64(avail / (1 << 20)), nil
}
