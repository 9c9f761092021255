//go:build linux

// Package fstools provides access to low level syscalls for advanced
// filesystem functionality.
package fstools

import (
	"fmt"
	"math"
	"os"
	"unsafe"
)

// https://docs.kernel.org/filesystems/fiemap.html
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/fiemap.h
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/fs.h

const (
	FS_IOC_FIEMAP = 0xC020660B
)

// All constants from uapi/linux/fiemap.h.
const (
	FIEMAP_MAX_OFFSET = math.MaxUint64

	FIEMAP_FLAG_SYNC  = 0x00000001 // sync file data before map
	FIEMAP_FLAG_XATTR = 0x00000002 // map extended attribute tree
	FIEMAP_FLAG_CACHE = 0x00000004 // request caching of the extents

	FIEMAP_EXTENT_LAST           = 0x00000001 // Last extent in file.
	FIEMAP_EXTENT_UNKNOWN        = 0x00000002 // Data location unknown.
	FIEMAP_EXTENT_DELALLOC       = 0x00000004 // Location still pending. Sets EXTENT_UNKNOWN.
	FIEMAP_EXTENT_ENCODED        = 0x00000008 // Data can not be read while fs is unmounted
	FIEMAP_EXTENT_DATA_ENCRYPTED = 0x00000080 // Data is encrypted by fs. Sets EXTENT_NO_BYPASS.
	FIEMAP_EXTENT_NOT_ALIGNED    = 0x00000100 // Extent offsets may not be block aligned.
	FIEMAP_EXTENT_DATA_INLINE    = 0x00000200 // Data mixed with metadata. Sets EXTENT_NOT_ALIGNED.
	FIEMAP_EXTENT_DATA_TAIL      = 0x00000400 // Multiple files in block. Sets EXTENT_NOT_ALIGNED.
	FIEMAP_EXTENT_UNWRITTEN      = 0x00000800 // Space allocated, but no data (i.e. zero).
	FIEMAP_EXTENT_MERGED         = 0x00001000 // File does not natively support extents. Result merged for efficiency.
	FIEMAP_EXTENT_SHARED         = 0x00002000 // Space shared with other files.
)

// Constants needed to calculate the total ioctl request size.
const (
	SizeofRawFiemap       = 32
	SizeofRawFiemapExtent = 56
)

// extentBatchCount is the number of extents requested per FIEMAP
// ioctl. Heavily fragmented files need several round trips.
const extentBatchCount = 50

type rawFiemap struct {
	Start          uint64 // in
	Length         uint64 // in
	Flags          uint32 // in/out
	Mapped_extents uint32 // out
	Extent_count   uint32 // in
	Reserved       uint32
}

type rawFiemapExtent FiemapExtent

type Fiemap struct {
	Start          uint64 // in
	Length         uint64 // in
	Flags          uint32 // in/out
	Mapped_extents uint32 // out
	Reserved       uint32
	Extents        []FiemapExtent // out
}

type FiemapExtent struct {
	Logical    uint64
	Physical   uint64
	Length     uint64
	Reserved64 [2]uint64
	Flags      uint32
	Reserved   [3]uint32
}

// IoctlFiemap performs an FIEMAP ioctl operation on a given fd.
//
// The value.Extents field is used purely as the output array to allow
// reuse on the caller side. If the kernel rejects the default request
// encoding, the alternate encoding is tried before the failure is
// reported.
func IoctlFiemap(fd int, value *Fiemap) error {
	buf := make([]byte, SizeofRawFiemap+len(value.Extents)*SizeofRawFiemapExtent)
	bufPtr := unsafe.Pointer(&buf[0])

	// The make function allocates 8 byte aligned for buffers this size.
	if uintptr(bufPtr)%8 != 0 {
		panic("buffer for fiemap ioctl is not 64 bit aligned")
	}

	rawFm := (*rawFiemap)(bufPtr)
	rawFm.Start = value.Start
	rawFm.Length = value.Length
	rawFm.Flags = value.Flags
	rawFm.Mapped_extents = value.Mapped_extents
	rawFm.Extent_count = uint32(len(value.Extents))
	rawFm.Reserved = value.Reserved

	err := ioctlAlt(fd, FS_IOC_FIEMAP, bufPtr)

	// Output
	for i := range value.Extents {
		rawExtent := (*rawFiemapExtent)(unsafe.Add(bufPtr, SizeofRawFiemap+i*SizeofRawFiemapExtent))
		value.Extents[i] = FiemapExtent(*rawExtent)
	}

	value.Flags = rawFm.Flags
	value.Mapped_extents = rawFm.Mapped_extents
	value.Reserved = rawFm.Reserved

	return err
}

// FiemapExtentFlagsToStrings converts FIEMAP extent flags to human-readable strings.
func FiemapExtentFlagsToStrings(flags uint32) []string {
	flagDefs := []struct {
		flag uint32
		name string
	}{
		{FIEMAP_EXTENT_LAST, "last"},
		{FIEMAP_EXTENT_UNKNOWN, "unknown"},
		{FIEMAP_EXTENT_DELALLOC, "delalloc"},
		{FIEMAP_EXTENT_ENCODED, "encoded"},
		{FIEMAP_EXTENT_DATA_ENCRYPTED, "data_encrypted"},
		{FIEMAP_EXTENT_NOT_ALIGNED, "not_aligned"},
		{FIEMAP_EXTENT_DATA_INLINE, "data_inline"},
		{FIEMAP_EXTENT_DATA_TAIL, "data_tail"},
		{FIEMAP_EXTENT_UNWRITTEN, "unwritten"},
		{FIEMAP_EXTENT_MERGED, "merged"},
		{FIEMAP_EXTENT_SHARED, "shared"},
	}

	var result []string
	for _, fd := range flagDefs {
		if flags&fd.flag != 0 {
			result = append(result, fd.name)
		}
		flags &= ^fd.flag
	}

	if flags != 0 {
		// Handle any undocumented flags
		result = append(result, fmt.Sprintf("0x%X", flags))
	}

	return result
}

// FiemapWalkFunc is called for every extent visited by FiemapWalk. A
// non-nil error stops the walk and is returned as-is.
type FiemapWalkFunc func(index int, extent *FiemapExtent) error

// FiemapWalk iterates over all extents that back the given file in
// batches of extentBatchCount, calling the provided callback for each
// extent in logical order.
//
// The flags value can be 0 as the default, otherwise, you can set it
// to the bitwise or of FIEMAP_FLAG_SYNC, FIEMAP_FLAG_XATTR, or
// FIEMAP_FLAG_CACHE.
func FiemapWalk(file *os.File, flags uint32, callback FiemapWalkFunc) error {
	fmExtents := make([]FiemapExtent, extentBatchCount)

	var nextExtentIndexOffset int
	var nextLogicalStart uint64
	for {
		fm := Fiemap{
			Start:   nextLogicalStart,
			Length:  FIEMAP_MAX_OFFSET,
			Flags:   flags,
			Extents: fmExtents,
		}
		if err := IoctlFiemap(int(file.Fd()), &fm); err != nil {
			return err
		}

		if fm.Mapped_extents == 0 {
			return nil
		}

		for i := 0; i < int(fm.Mapped_extents); i++ {
			index := nextExtentIndexOffset + i
			extent := &fm.Extents[i]
			if err := callback(index, extent); err != nil {
				return err
			}
			if extent.Flags&FIEMAP_EXTENT_LAST != 0 {
				return nil
			}
		}
		nextExtentIndexOffset += int(fm.Mapped_extents)
		nextLogicalStart = fm.Extents[fm.Mapped_extents-1].Logical + fm.Extents[fm.Mapped_extents-1].Length
	}
}
