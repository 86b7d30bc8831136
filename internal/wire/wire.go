// Package wire defines the byte layout of the operation header and
// mount-lifecycle messages that cross the kernel/userspace boundary
// (spec §3 "Operation Header" and 4.G "Mount Thread"), and explicit
// marshal/unmarshal functions for them. zufs itself is a C ABI with no
// natural Go representation, so every field is placed by hand rather
// than through unsafe struct-casting.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when Unmarshal is given fewer bytes than
// a fixed-layout structure requires.
var ErrShortBuffer = errors.New("wire: buffer too short")

// Operation codes, one per spec 4.H routing-table entry.
const (
	OpNewInode uint16 = iota + 1
	OpEvictInode
	OpFreeInode
	OpLookup
	OpAddDentry
	OpRemoveDentry
	OpRename
	OpReaddir
	OpClone
	OpRead
	OpPreRead
	OpWrite
	OpGetBlock
	OpPutBlock
	OpMmapClose
	OpGetSymlink
	OpSetattr
	OpSync
	OpFallocate
	OpLlseek
	OpIoctl
	OpXattrGet
	OpXattrSet
	OpXattrList
	OpStatfs
	OpBreak
	OpMount
	OpUmount
	OpRemount
	OpDebugRead
	OpDebugWrite
)

var opcodeNames = map[uint16]string{
	OpNewInode:    "NEW_INODE",
	OpEvictInode:  "EVICT_INODE",
	OpFreeInode:   "FREE_INODE",
	OpLookup:      "LOOKUP",
	OpAddDentry:   "ADD_DENTRY",
	OpRemoveDentry: "REMOVE_DENTRY",
	OpRename:      "RENAME",
	OpReaddir:     "READDIR",
	OpClone:       "CLONE",
	OpRead:        "READ",
	OpPreRead:     "PRE_READ",
	OpWrite:       "WRITE",
	OpGetBlock:    "GET_BLOCK",
	OpPutBlock:    "PUT_BLOCK",
	OpMmapClose:   "MMAP_CLOSE",
	OpGetSymlink:  "GET_SYMLINK",
	OpSetattr:     "SETATTR",
	OpSync:        "SYNC",
	OpFallocate:   "FALLOCATE",
	OpLlseek:      "LLSEEK",
	OpIoctl:       "IOCTL",
	OpXattrGet:    "XATTR_GET",
	OpXattrSet:    "XATTR_SET",
	OpXattrList:   "XATTR_LIST",
	OpStatfs:      "STATFS",
	OpBreak:       "BREAK",
	OpMount:       "MOUNT",
	OpUmount:      "UMOUNT",
	OpRemount:     "REMOUNT",
	OpDebugRead:   "DEBUG_READ",
	OpDebugWrite:  "DEBUG_WRITE",
}

// OpcodeName returns the routing-table name for an operation code, for
// metrics and logging. Unknown codes return "UNKNOWN".
func OpcodeName(op uint16) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// Inode flags carried in a NEW_INODE/EVICT_INODE header.
const (
	FlagTmpfile     uint32 = 1 << 0
	FlagLookupRace  uint32 = 1 << 1
	FlagFree        uint32 = 1 << 2
)

// HeaderSize is the fixed, on-the-wire size of Header.
const HeaderSize = 64

// Header is the fixed-size operation header the kernel writes into the
// front of a worker's mapped op buffer before waking it (spec §3 "Operation
// Header"). Offset/Length/Arg are reused across operations per their
// routing-table meaning; see dispatch for the per-opcode mapping.
type Header struct {
	Opcode   uint16
	Channel  uint16
	Flags    uint32
	Ino      uint64
	TargetIno uint64 // second inode (rename's dest dir, clone's dst)
	Offset   int64
	Length   int64
	Arg      uint64
	Errno    int32
	_        uint32 // reserved/padding to a 64-byte header
}

// Marshal serializes h into a HeaderSize-byte buffer.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Opcode)
	binary.LittleEndian.PutUint16(buf[2:4], h.Channel)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.Ino)
	binary.LittleEndian.PutUint64(buf[16:24], h.TargetIno)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.Offset))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.Length))
	binary.LittleEndian.PutUint64(buf[40:48], h.Arg)
	binary.LittleEndian.PutUint32(buf[48:52], uint32(h.Errno))
	return buf
}

// UnmarshalHeader parses a HeaderSize-byte buffer into a Header.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortBuffer
	}
	h := &Header{
		Opcode:    binary.LittleEndian.Uint16(data[0:2]),
		Channel:   binary.LittleEndian.Uint16(data[2:4]),
		Flags:     binary.LittleEndian.Uint32(data[4:8]),
		Ino:       binary.LittleEndian.Uint64(data[8:16]),
		TargetIno: binary.LittleEndian.Uint64(data[16:24]),
		Offset:    int64(binary.LittleEndian.Uint64(data[24:32])),
		Length:    int64(binary.LittleEndian.Uint64(data[32:40])),
		Arg:       binary.LittleEndian.Uint64(data[40:48]),
		Errno:     int32(binary.LittleEndian.Uint32(data[48:52])),
	}
	return h, nil
}

// MountMessageSize is the fixed size of a mount-lifecycle message.
const MountMessageSize = 32

// MountMessage is what the kernel writes to ReceiveMount: which
// lifecycle event fired and the pmem identity to grab for it.
type MountMessage struct {
	Kind      uint16 // OpMount/OpUmount/OpRemount/OpDebugRead/OpDebugWrite
	PmemKernID uint32
	NumBlocks uint64
	BlockSize uint32
}

// Marshal serializes m into a MountMessageSize-byte buffer.
func (m *MountMessage) Marshal() []byte {
	buf := make([]byte, MountMessageSize)
	binary.LittleEndian.PutUint16(buf[0:2], m.Kind)
	binary.LittleEndian.PutUint32(buf[2:6], m.PmemKernID)
	binary.LittleEndian.PutUint64(buf[8:16], m.NumBlocks)
	binary.LittleEndian.PutUint32(buf[16:20], m.BlockSize)
	return buf
}

// UnmarshalMountMessage parses a MountMessageSize-byte buffer.
func UnmarshalMountMessage(data []byte) (*MountMessage, error) {
	if len(data) < MountMessageSize {
		return nil, ErrShortBuffer
	}
	return &MountMessage{
		Kind:       binary.LittleEndian.Uint16(data[0:2]),
		PmemKernID: binary.LittleEndian.Uint32(data[2:6]),
		NumBlocks:  binary.LittleEndian.Uint64(data[8:16]),
		BlockSize:  binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}
