//go:build linux

package fstools

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Default ioctl request layout (asm-generic): bits 31-30 direction,
// bits 29-16 payload size, bits 15-8 type, bits 7-0 number.
//
// On the powerpc/sparc/mips family the direction is a 3-bit field in
// bits 31-29 with "no direction" encoded as 1 instead of 0, leaving
// only 13 bits for the payload size.
// https://github.com/torvalds/linux/blob/master/arch/powerpc/include/uapi/asm/ioctl.h
const (
	iocSizeShift = 16
	iocSizeMask  = 0x3FFF
	iocDirShift  = 30

	iocAltDirShift = 29
	iocAltSizeMax  = 8192
)

// AltRequest re-encodes an ioctl request for the architecture family
// where the direction field is 3 bits wide and "none" is 1. The
// payload size must fit the narrower 13-bit size field; a request
// that does not fit cannot be expressed on those ABIs at all.
func AltRequest(req uint32) (uint32, error) {
	size := (req >> iocSizeShift) & iocSizeMask
	if size >= iocAltSizeMax {
		return 0, errors.Errorf("ioctl 0x%08X: payload size %d exceeds alternate encoding limit", req, size)
	}
	dir := req >> iocDirShift
	return (dir+1)<<iocAltDirShift | req&(1<<iocAltDirShift-1), nil
}

func ioctlPtr(fd int, req uint32, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

// ioctlAlt issues req and, if the kernel rejects the request code
// itself, retries once with the alternate encoding. The original
// errno is preserved when the retry fails too, so callers classify
// the default encoding's failure.
func ioctlAlt(fd int, req uint32, arg unsafe.Pointer) error {
	err := ioctlPtr(fd, req, arg)
	if err == unix.ENOTTY || err == unix.EINVAL {
		alt, altErr := AltRequest(req)
		if altErr != nil {
			return altErr
		}
		if retryErr := ioctlPtr(fd, alt, arg); retryErr == nil {
			return nil
		}
	}
	return err
}

// IsUnsupported reports whether an fstools ioctl failed because the
// mechanism is unavailable on this kernel, filesystem or under the
// current privileges, as opposed to a real I/O failure.
func IsUnsupported(err error) bool {
	switch err {
	case unix.ENOTTY, unix.EOPNOTSUPP, unix.ENOSYS, unix.EINVAL, unix.EPERM:
		return true
	}
	return false
}
