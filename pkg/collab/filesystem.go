package collab

import "golang.org/x/sys/unix"

// RealFilesystem reports actual volume capacity via statfs(2). Rugby's
// target platform is always a Unix-like build host (the native builder is
// Xcode), so a single syscall-backed implementation is sufficient.
type RealFilesystem struct{}

func (RealFilesystem) UsageAt(path string) (usedBytes, totalBytes uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := uint64(stat.Blocks) * uint64(stat.Bsize)
	free := uint64(stat.Bfree) * uint64(stat.Bsize)
	return total - free, total, nil
}
