package fop

import (
	"encoding/binary"

	"github.com/kvenginehq/waldb/server/innodb/errs"
	"github.com/kvenginehq/waldb/server/innodb/logmgr"
)

// RecType values for the eight FOP record shapes (spec §4.4).
const (
	RecCreate logmgr.RecType = 1 + iota
	RecRemove
	RecWrite
	RecRename
	RecFileRemove
	RecInmemCreate
	RecInmemRemove
	RecInmemRename
)

// AppPathCategory classifies which configured directory a name resolves
// under, mirroring the original's "appname" field (bdb/fileops).
type AppPathCategory uint32

const (
	AppData AppPathCategory = iota
	AppTmp
	AppLog
)

// ---- a tiny length-prefixed encoder/decoder shared by all 8 shapes ----

type encoder struct{ buf []byte }

func (e *encoder) putString(s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, s...)
}

func (e *encoder) putBytes(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, b...)
}

func (e *encoder) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putFileID(id FileID) {
	e.buf = append(e.buf, id[:]...)
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) err() error {
	return errs.New(errs.Corruption, "truncated fop record body")
}

func (d *decoder) getString() (string, error) {
	b, err := d.getBytes()
	return string(b), err
}

func (d *decoder) getBytes() ([]byte, error) {
	if d.off+4 > len(d.buf) {
		return nil, d.err()
	}
	n := int(binary.BigEndian.Uint32(d.buf[d.off : d.off+4]))
	d.off += 4
	if d.off+n > len(d.buf) {
		return nil, d.err()
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) getUint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, d.err()
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *decoder) getUint64() (uint64, error) {
	if d.off+8 > len(d.buf) {
		return 0, d.err()
	}
	v := binary.BigEndian.Uint64(d.buf[d.off : d.off+8])
	d.off += 8
	return v, nil
}

func (d *decoder) getFileID() (FileID, error) {
	var id FileID
	if d.off+len(id) > len(d.buf) {
		return id, d.err()
	}
	copy(id[:], d.buf[d.off:d.off+len(id)])
	d.off += len(id)
	return id, nil
}

// CreateBody is FOP_CREATE's payload: filename, app-path category, mode.
type CreateBody struct {
	Name     string
	Category AppPathCategory
	Mode     uint32
}

func (b CreateBody) encode() []byte {
	e := &encoder{}
	e.putString(b.Name)
	e.putUint32(uint32(b.Category))
	e.putUint32(b.Mode)
	return e.buf
}

func decodeCreateBody(buf []byte) (CreateBody, error) {
	d := &decoder{buf: buf}
	name, err := d.getString()
	if err != nil {
		return CreateBody{}, err
	}
	cat, err := d.getUint32()
	if err != nil {
		return CreateBody{}, err
	}
	mode, err := d.getUint32()
	if err != nil {
		return CreateBody{}, err
	}
	return CreateBody{Name: name, Category: AppPathCategory(cat), Mode: mode}, nil
}

// RemoveBody is FOP_REMOVE's payload: filename, file-id, app-path category.
type RemoveBody struct {
	Name     string
	FileID   FileID
	Category AppPathCategory
}

func (b RemoveBody) encode() []byte {
	e := &encoder{}
	e.putString(b.Name)
	e.putFileID(b.FileID)
	e.putUint32(uint32(b.Category))
	return e.buf
}

func decodeRemoveBody(buf []byte) (RemoveBody, error) {
	d := &decoder{buf: buf}
	name, err := d.getString()
	if err != nil {
		return RemoveBody{}, err
	}
	fid, err := d.getFileID()
	if err != nil {
		return RemoveBody{}, err
	}
	cat, err := d.getUint32()
	if err != nil {
		return RemoveBody{}, err
	}
	return RemoveBody{Name: name, FileID: fid, Category: AppPathCategory(cat)}, nil
}

// WriteBody is FOP_WRITE's payload: filename, app-path category, offset,
// page bytes, flag.
type WriteBody struct {
	Name     string
	Category AppPathCategory
	Offset   uint64
	Page     []byte
	Flag     uint32
}

func (b WriteBody) encode() []byte {
	e := &encoder{}
	e.putString(b.Name)
	e.putUint32(uint32(b.Category))
	e.putUint64(b.Offset)
	e.putBytes(b.Page)
	e.putUint32(b.Flag)
	return e.buf
}

func decodeWriteBody(buf []byte) (WriteBody, error) {
	d := &decoder{buf: buf}
	name, err := d.getString()
	if err != nil {
		return WriteBody{}, err
	}
	cat, err := d.getUint32()
	if err != nil {
		return WriteBody{}, err
	}
	off, err := d.getUint64()
	if err != nil {
		return WriteBody{}, err
	}
	page, err := d.getBytes()
	if err != nil {
		return WriteBody{}, err
	}
	flag, err := d.getUint32()
	if err != nil {
		return WriteBody{}, err
	}
	return WriteBody{Name: name, Category: AppPathCategory(cat), Offset: off, Page: append([]byte{}, page...), Flag: flag}, nil
}

// RenameBody is FOP_RENAME's payload: oldname, newname, file-id,
// app-path category.
type RenameBody struct {
	OldName  string
	NewName  string
	FileID   FileID
	Category AppPathCategory
}

func (b RenameBody) encode() []byte {
	e := &encoder{}
	e.putString(b.OldName)
	e.putString(b.NewName)
	e.putFileID(b.FileID)
	e.putUint32(uint32(b.Category))
	return e.buf
}

func decodeRenameBody(buf []byte) (RenameBody, error) {
	d := &decoder{buf: buf}
	oldName, err := d.getString()
	if err != nil {
		return RenameBody{}, err
	}
	newName, err := d.getString()
	if err != nil {
		return RenameBody{}, err
	}
	fid, err := d.getFileID()
	if err != nil {
		return RenameBody{}, err
	}
	cat, err := d.getUint32()
	if err != nil {
		return RenameBody{}, err
	}
	return RenameBody{OldName: oldName, NewName: newName, FileID: fid, Category: AppPathCategory(cat)}, nil
}

// FileRemoveBody is FOP_FILE_REMOVE's payload: real-fid, tmp-fid, name,
// app-path category, child-txn — the commit-time unlink step of the
// rename-and-delete protocol (spec §4.4).
type FileRemoveBody struct {
	RealFileID FileID
	TmpFileID  FileID
	Name       string
	Category   AppPathCategory
	ChildTxn   logmgr.TxnID
}

func (b FileRemoveBody) encode() []byte {
	e := &encoder{}
	e.putFileID(b.RealFileID)
	e.putFileID(b.TmpFileID)
	e.putString(b.Name)
	e.putUint32(uint32(b.Category))
	e.putUint64(uint64(b.ChildTxn))
	return e.buf
}

func decodeFileRemoveBody(buf []byte) (FileRemoveBody, error) {
	d := &decoder{buf: buf}
	real, err := d.getFileID()
	if err != nil {
		return FileRemoveBody{}, err
	}
	tmp, err := d.getFileID()
	if err != nil {
		return FileRemoveBody{}, err
	}
	name, err := d.getString()
	if err != nil {
		return FileRemoveBody{}, err
	}
	cat, err := d.getUint32()
	if err != nil {
		return FileRemoveBody{}, err
	}
	childTxn, err := d.getUint64()
	if err != nil {
		return FileRemoveBody{}, err
	}
	return FileRemoveBody{RealFileID: real, TmpFileID: tmp, Name: name, Category: AppPathCategory(cat), ChildTxn: logmgr.TxnID(childTxn)}, nil
}

// InmemCreateBody is FOP_INMEM_CREATE's payload: filename, file-id, page size.
type InmemCreateBody struct {
	Name     string
	FileID   FileID
	PageSize uint32
}

func (b InmemCreateBody) encode() []byte {
	e := &encoder{}
	e.putString(b.Name)
	e.putFileID(b.FileID)
	e.putUint32(b.PageSize)
	return e.buf
}

func decodeInmemCreateBody(buf []byte) (InmemCreateBody, error) {
	d := &decoder{buf: buf}
	name, err := d.getString()
	if err != nil {
		return InmemCreateBody{}, err
	}
	fid, err := d.getFileID()
	if err != nil {
		return InmemCreateBody{}, err
	}
	pageSize, err := d.getUint32()
	if err != nil {
		return InmemCreateBody{}, err
	}
	return InmemCreateBody{Name: name, FileID: fid, PageSize: pageSize}, nil
}

// InmemRemoveBody is FOP_INMEM_REMOVE's payload: filename, file-id.
type InmemRemoveBody struct {
	Name   string
	FileID FileID
}

func (b InmemRemoveBody) encode() []byte {
	e := &encoder{}
	e.putString(b.Name)
	e.putFileID(b.FileID)
	return e.buf
}

func decodeInmemRemoveBody(buf []byte) (InmemRemoveBody, error) {
	d := &decoder{buf: buf}
	name, err := d.getString()
	if err != nil {
		return InmemRemoveBody{}, err
	}
	fid, err := d.getFileID()
	if err != nil {
		return InmemRemoveBody{}, err
	}
	return InmemRemoveBody{Name: name, FileID: fid}, nil
}

// InmemRenameBody is FOP_INMEM_RENAME's payload: oldname, newname, file-id.
type InmemRenameBody struct {
	OldName string
	NewName string
	FileID  FileID
}

func (b InmemRenameBody) encode() []byte {
	e := &encoder{}
	e.putString(b.OldName)
	e.putString(b.NewName)
	e.putFileID(b.FileID)
	return e.buf
}

func decodeInmemRenameBody(buf []byte) (InmemRenameBody, error) {
	d := &decoder{buf: buf}
	oldName, err := d.getString()
	if err != nil {
		return InmemRenameBody{}, err
	}
	newName, err := d.getString()
	if err != nil {
		return InmemRenameBody{}, err
	}
	fid, err := d.getFileID()
	if err != nil {
		return InmemRenameBody{}, err
	}
	return InmemRenameBody{OldName: oldName, NewName: newName, FileID: fid}, nil
}
