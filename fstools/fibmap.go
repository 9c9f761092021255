//go:build linux

package fstools

import (
	"os"
	"unsafe"
)

// Old-style block mapping requests from uapi/linux/fs.h. These predate
// the encoded ioctl number scheme and are plain ordinals.
const (
	FIBMAP   = 1 // map one logical block to its physical block
	FIGETBSZ = 2 // get the block size used for bmap
)

// Figetbsz returns the filesystem block size used for block mapping
// of the given file.
func Figetbsz(file *os.File) (int, error) {
	var bsz int32
	if err := ioctlAlt(int(file.Fd()), FIGETBSZ, unsafe.Pointer(&bsz)); err != nil {
		return 0, err
	}
	return int(bsz), nil
}

// Fibmap maps a single logical block index of the file to its
// physical block number. A result of 0 means the block is not
// allocated (a hole).
//
// The kernel reads and writes the argument as a C int, so the file
// must be below 2^31 blocks to be addressable this way.
func Fibmap(file *os.File, logical uint32) (uint32, error) {
	blk := int32(logical)
	if err := ioctlAlt(int(file.Fd()), FIBMAP, unsafe.Pointer(&blk)); err != nil {
		return 0, err
	}
	return uint32(blk), nil
}
