// Package dispatch implements the Operation Dispatcher (spec
// component 4.H): it takes one parsed operation header plus its
// payload buffer, routes it to the single fsapi capability that
// handles that operation code, and maps whatever the filesystem
// returns back into a kernel errno.
package dispatch

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/wire"
	"github.com/anvilfs/zuscore/internal/zerrors"
	"github.com/anvilfs/zuscore/internal/zmetrics"
)

// Dispatcher routes operation headers to a mounted superblock's
// capability vtables. One Dispatcher serves every zu-thread of a
// mount; filesystem implementations are expected to be safe for
// concurrent use across inodes.
type Dispatcher struct {
	Sbi      *fsapi.Superblock
	Observer zmetrics.Observer

	inodes inodeCache
}

// New creates a Dispatcher bound to a mounted superblock.
func New(sbi *fsapi.Superblock) *Dispatcher {
	return &Dispatcher{Sbi: sbi, Observer: zmetrics.NoOpObserver{}, inodes: newInodeCache()}
}

// Dispatch handles one operation. payload is the operation's variable
// length data (names, read/write buffers, xattr values); out is where
// any response data is written back, bounded by its own length.
// Dispatch never returns a Go error for a filesystem-level failure: it
// translates everything to the returned errno, already in the kernel's
// negative sign convention, which the caller writes back to the kernel.
func (d *Dispatcher) Dispatch(hdr *wire.Header, payload []byte, out []byte) (n int, errno int32) {
	start := time.Now()
	n, errno = d.dispatch(hdr, payload, out)
	d.Observer.ObserveOp(wire.OpcodeName(hdr.Opcode), uint64(time.Since(start).Nanoseconds()), errno == 0)
	return n, errno
}

func (d *Dispatcher) dispatch(hdr *wire.Header, payload []byte, out []byte) (n int, errno int32) {
	switch hdr.Opcode {
	case wire.OpLookup:
		return d.lookup(hdr, payload)
	case wire.OpNewInode:
		return d.newInode(hdr, payload)
	case wire.OpAddDentry, wire.OpRemoveDentry:
		return d.dentry(hdr, payload)
	case wire.OpRename:
		return d.rename(hdr, payload)
	case wire.OpEvictInode, wire.OpFreeInode:
		return d.evict(hdr)
	case wire.OpClone:
		return d.clone(hdr)
	case wire.OpStatfs:
		return d.statfs(out)
	}

	inode, err := d.resolve(fsapi.Ino(hdr.Ino))
	switch hdr.Opcode {
	case wire.OpReaddir:
		if err != nil {
			return 0, errnoFor(err)
		}
		return d.readdir(inode, hdr, out)
	case wire.OpRead:
		if err != nil {
			return 0, errnoFor(err)
		}
		return readWrite(inode.Ops.Read, out, hdr.Offset)
	case wire.OpPreRead:
		if err != nil {
			return 0, errnoFor(err)
		}
		pre, ok := inode.Ops.(fsapi.PreReadOps)
		if !ok {
			return 0, errnoFor(unsupported("pre_read"))
		}
		if err := pre.PreRead(out, hdr.Offset); err != nil {
			return 0, errnoFor(err)
		}
		return len(out), 0
	case wire.OpWrite:
		if err != nil {
			return 0, errnoFor(err)
		}
		return readWrite(inode.Ops.Write, payload, hdr.Offset)
	case wire.OpGetBlock, wire.OpPutBlock:
		if err != nil {
			return 0, errnoFor(err)
		}
		return d.getPutBlock(inode, hdr, out)
	case wire.OpMmapClose:
		if err != nil {
			return 0, errnoFor(err)
		}
		if mc, ok := inode.Ops.(fsapi.MmapCloseOps); ok {
			if err := mc.MmapClose(); err != nil {
				return 0, errnoFor(err)
			}
		}
		return 0, 0
	case wire.OpGetSymlink:
		if err != nil {
			return 0, errnoFor(err)
		}
		sym, ok := inode.Ops.(fsapi.SymlinkOps)
		if !ok {
			return 0, errnoFor(unsupported("get_symlink"))
		}
		target, err := sym.GetSymlink()
		if err != nil {
			return 0, errnoFor(err)
		}
		return copy(out, target), 0
	case wire.OpSetattr:
		if err != nil {
			return 0, errnoFor(err)
		}
		if sa, ok := inode.Ops.(fsapi.SetattrOps); ok {
			if err := sa.Setattr(nil, uint32(hdr.Flags)); err != nil {
				return 0, errnoFor(err)
			}
		}
		return 0, 0
	case wire.OpSync:
		if err != nil {
			return 0, errnoFor(err)
		}
		if sy, ok := inode.Ops.(fsapi.SyncOps); ok {
			if err := sy.Sync(hdr.Offset, hdr.Length); err != nil {
				return 0, errnoFor(err)
			}
		}
		return 0, 0
	case wire.OpFallocate:
		if err != nil {
			return 0, errnoFor(err)
		}
		fa, ok := inode.Ops.(fsapi.FallocateOps)
		if !ok {
			return 0, errnoFor(unsupported("fallocate"))
		}
		if err := fa.Fallocate(hdr.Offset, hdr.Length, uint32(hdr.Arg)); err != nil {
			return 0, errnoFor(err)
		}
		return 0, 0
	case wire.OpLlseek:
		if err != nil {
			return 0, errnoFor(err)
		}
		sk, ok := inode.Ops.(fsapi.SeekOps)
		if !ok {
			return 0, errnoFor(unsupported("llseek"))
		}
		pos, err := sk.Seek(hdr.Offset, int(hdr.Arg))
		if err != nil {
			return 0, errnoFor(err)
		}
		binary.LittleEndian.PutUint64(out, uint64(pos))
		return 8, 0
	case wire.OpIoctl:
		if err != nil {
			return 0, errnoFor(err)
		}
		ic, ok := inode.Ops.(fsapi.IoctlOps)
		if !ok {
			return 0, errnoFor(zerrors.NewError("ioctl", zerrors.ErrCodeNotATTY, "inode does not implement ioctl"))
		}
		resp, err := ic.Ioctl(uint32(hdr.Arg), payload)
		if err != nil {
			return 0, errnoFor(err)
		}
		return copy(out, resp), 0
	case wire.OpXattrGet, wire.OpXattrSet, wire.OpXattrList:
		if err != nil {
			return 0, errnoFor(err)
		}
		return d.xattr(inode, hdr, payload, out)
	default:
		return 0, errnoFor(zerrors.NewError("dispatch", zerrors.ErrCodeInvalidArgument, "unknown operation code"))
	}
}

func unsupported(op string) error {
	return zerrors.NewError(op, zerrors.ErrCodeUnsupported, "capability not implemented by this filesystem")
}

func errnoFor(err error) int32 {
	return zerrors.ErrnoToKernel(zerrors.ErrnoForError(err))
}

func (d *Dispatcher) resolve(ino fsapi.Ino) (*fsapi.Inode, error) {
	if inode, ok := d.inodes.get(ino); ok {
		return inode, nil
	}
	ops, err := d.Sbi.Ops.Iget(ino)
	if err != nil {
		return nil, err
	}
	inode := &fsapi.Inode{Ino: ino, Sbi: d.Sbi, Ops: ops}
	d.inodes.put(ino, inode)
	return inode, nil
}

// lookup resolves name within the directory named by hdr.Ino. "." and
// ".." are handled here rather than passed to the filesystem: "."
// always resolves to dir itself, and ".." resolves to dir's recorded
// parent (itself, if the dispatcher never saw it created).
func (d *Dispatcher) lookup(hdr *wire.Header, payload []byte) (int, int32) {
	dir, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	name, _ := cString(payload)

	switch name {
	case ".":
		return int(dir.Ino), 0
	case "..":
		parent := dir.Parent
		if parent == nil {
			parent = dir
		}
		return int(parent.Ino), 0
	}

	ino, err := d.Sbi.Ops.Lookup(dir, name)
	if err != nil {
		return 0, errnoFor(err)
	}
	return int(ino), 0
}

func (d *Dispatcher) newInode(hdr *wire.Header, payload []byte) (int, int32) {
	dir, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	name, _ := cString(payload)
	opts := fsapi.NewInodeOptions{
		Mode:    uint32(hdr.Arg),
		Tmpfile: hdr.Flags&wire.FlagTmpfile != 0,
	}
	ops, ino, err := d.Sbi.Ops.NewInode(dir, opts)
	if err != nil {
		return 0, errnoFor(err)
	}
	child := &fsapi.Inode{Ino: ino, Sbi: d.Sbi, Ops: ops, Parent: dir}

	if !opts.Tmpfile {
		if err := d.Sbi.Ops.AddDentry(dir, name, child); err != nil {
			_ = d.Sbi.Ops.FreeInode(child)
			return 0, errnoFor(err)
		}
	}
	d.inodes.put(ino, child)
	return int(ino), 0
}

func (d *Dispatcher) dentry(hdr *wire.Header, payload []byte) (int, int32) {
	dir, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	child, err := d.resolve(fsapi.Ino(hdr.TargetIno))
	if err != nil {
		return 0, errnoFor(err)
	}
	name, _ := cString(payload)
	if hdr.Opcode == wire.OpAddDentry {
		err = d.Sbi.Ops.AddDentry(dir, name, child)
	} else {
		err = d.Sbi.Ops.RemoveDentry(dir, name, child)
	}
	if err != nil {
		return 0, errnoFor(err)
	}
	return 0, 0
}

func (d *Dispatcher) rename(hdr *wire.Header, payload []byte) (int, int32) {
	ren, ok := d.Sbi.Ops.(fsapi.RenameOps)
	if !ok {
		return 0, errnoFor(unsupported("rename"))
	}
	oldDir, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	newDir, err := d.resolve(fsapi.Ino(hdr.TargetIno))
	if err != nil {
		return 0, errnoFor(err)
	}
	oldName, rest := cString(payload)
	newName, _ := cString(rest)
	if err := ren.Rename(oldDir, oldName, newDir, newName); err != nil {
		return 0, errnoFor(err)
	}
	return 0, 0
}

func (d *Dispatcher) evict(hdr *wire.Header) (int, int32) {
	inode, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	opts := fsapi.EvictOptions{
		Free:            hdr.Opcode == wire.OpFreeInode,
		LookupRaceLoser: hdr.Flags&wire.FlagLookupRace != 0,
	}
	if hdr.Opcode == wire.OpEvictInode && !opts.LookupRaceLoser {
		if err := inode.Ops.Evict(opts); err != nil {
			return 0, errnoFor(err)
		}
	}
	if opts.Free {
		if err := d.Sbi.Ops.FreeInode(inode); err != nil {
			return 0, errnoFor(err)
		}
	}
	d.inodes.delete(inode.Ino)
	return 0, 0
}

func (d *Dispatcher) readdir(dir *fsapi.Inode, hdr *wire.Header, out []byte) (int, int32) {
	rd, ok := dir.Ops.(fsapi.ReaddirOps)
	if !ok {
		return 0, errnoFor(unsupported("readdir"))
	}
	var buf bytes.Buffer
	if err := rd.Readdir(dir, &buf, hdr.Offset); err != nil {
		return 0, errnoFor(err)
	}
	return copy(out, buf.Bytes()), 0
}

func (d *Dispatcher) clone(hdr *wire.Header) (int, int32) {
	cl, ok := d.Sbi.Ops.(fsapi.CloneOps)
	if !ok {
		return 0, errnoFor(unsupported("clone"))
	}
	src, err := d.resolve(fsapi.Ino(hdr.Ino))
	if err != nil {
		return 0, errnoFor(err)
	}
	dst, err := d.resolve(fsapi.Ino(hdr.TargetIno))
	if err != nil {
		return 0, errnoFor(err)
	}
	if err := cl.Clone(src, hdr.Offset, dst, int64(hdr.Arg), hdr.Length); err != nil {
		return 0, errnoFor(err)
	}
	return 0, 0
}

func (d *Dispatcher) statfs(out []byte) (int, int32) {
	sf, ok := d.Sbi.Ops.(fsapi.StatfsOps)
	if !ok {
		return 0, errnoFor(unsupported("statfs"))
	}
	st, err := sf.Statfs()
	if err != nil {
		return 0, errnoFor(err)
	}
	binary.LittleEndian.PutUint32(out[0:4], st.BlockSize)
	binary.LittleEndian.PutUint64(out[4:12], st.Blocks)
	binary.LittleEndian.PutUint64(out[12:20], st.BlocksFree)
	binary.LittleEndian.PutUint64(out[20:28], st.Files)
	binary.LittleEndian.PutUint64(out[28:36], st.FilesFree)
	return 36, 0
}

func (d *Dispatcher) getPutBlock(inode *fsapi.Inode, hdr *wire.Header, out []byte) (int, int32) {
	req := fsapi.GetBlockRequest{FileOffset: hdr.Offset, WantWrite: hdr.Flags != 0}
	if hdr.Opcode == wire.OpPutBlock {
		pb, ok := inode.Ops.(fsapi.PutBlockOps)
		if !ok {
			return 0, 0 // optional; absence is a silent success
		}
		if err := pb.PutBlock(req); err != nil {
			return 0, errnoFor(err)
		}
		return 0, 0
	}

	gb, ok := inode.Ops.(fsapi.GetBlockOps)
	if !ok {
		return 0, errnoFor(zerrors.NewError("get_block", zerrors.ErrCodeIO, "inode does not implement block mapping"))
	}
	res, err := gb.GetBlock(req)
	if err != nil {
		return 0, errnoFor(err)
	}
	binary.LittleEndian.PutUint64(out[0:8], uint64(res.PmemOffset))
	binary.LittleEndian.PutUint64(out[8:16], uint64(res.Length))
	return 16, 0
}

func (d *Dispatcher) xattr(inode *fsapi.Inode, hdr *wire.Header, payload, out []byte) (int, int32) {
	xa, ok := inode.Ops.(fsapi.XattrOps)
	if !ok {
		return 0, errnoFor(unsupported("xattr"))
	}
	switch hdr.Opcode {
	case wire.OpXattrGet:
		name, _ := cString(payload)
		val, err := xa.GetXattr(name)
		if err != nil {
			return 0, errnoFor(err)
		}
		return copy(out, val), 0
	case wire.OpXattrSet:
		name, rest := cString(payload)
		if err := xa.SetXattr(name, rest, uint32(hdr.Arg)); err != nil {
			return 0, errnoFor(err)
		}
		return 0, 0
	case wire.OpXattrList:
		names, err := xa.ListXattr()
		if err != nil {
			return 0, errnoFor(err)
		}
		var buf bytes.Buffer
		for _, n := range names {
			buf.WriteString(n)
			buf.WriteByte(0)
		}
		return copy(out, buf.Bytes()), 0
	default:
		// An unrecognized xattr subtype is a protocol-level BadAddress,
		// not a mapped errno.
		return 0, zerrors.ErrnoToKernel(zerrors.CodeToErrno(zerrors.ErrCodeBadAddress))
	}
}

func readWrite(fn func([]byte, int64) (int, error), buf []byte, off int64) (int, int32) {
	n, err := fn(buf, off)
	if err != nil {
		return n, errnoFor(err)
	}
	return n, 0
}

// cString splits buf at its first NUL byte, returning the string
// before it and the remaining bytes after it. Names in the wire
// protocol are NUL-terminated rather than length-prefixed.
func cString(buf []byte) (string, []byte) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), buf[i+1:]
		}
	}
	return string(buf), nil
}
