package logmgr

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

const (
	segmentMagic      uint32 = 0x574c4f47 // "WLOG"
	segmentByteOrder  uint32 = 0x01020304
	segmentFormatVers uint32 = 1
	segmentHeaderSize        = 20 // magic, byteorder, version, segmentSize, cipherBlock
)

// segmentHeader is written once at segment creation and never rewritten
// (spec §6 "on-disk layout ... log segments ... Each segment begins
// with a header").
type segmentHeader struct {
	magic       uint32
	byteOrder   uint32
	version     uint32
	segmentSize uint32
	cipherBlock uint32
}

func (h segmentHeader) encode() []byte {
	buf := make([]byte, segmentHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	binary.BigEndian.PutUint32(buf[4:8], h.byteOrder)
	binary.BigEndian.PutUint32(buf[8:12], h.version)
	binary.BigEndian.PutUint32(buf[12:16], h.segmentSize)
	binary.BigEndian.PutUint32(buf[16:20], h.cipherBlock)
	return buf
}

func decodeSegmentHeader(buf []byte) (segmentHeader, error) {
	if len(buf) < segmentHeaderSize {
		return segmentHeader{}, errs.New(errs.Corruption, "segment header truncated")
	}
	h := segmentHeader{
		magic:       binary.BigEndian.Uint32(buf[0:4]),
		byteOrder:   binary.BigEndian.Uint32(buf[4:8]),
		version:     binary.BigEndian.Uint32(buf[8:12]),
		segmentSize: binary.BigEndian.Uint32(buf[12:16]),
		cipherBlock: binary.BigEndian.Uint32(buf[16:20]),
	}
	if h.magic != segmentMagic {
		return segmentHeader{}, errs.New(errs.Corruption, "segment header magic mismatch")
	}
	if h.version != segmentFormatVers {
		return segmentHeader{}, errs.New(errs.InvalidArgument, "log segment format version mismatch")
	}
	return h, nil
}

func segmentName(dir string, index uint32) string {
	return filepath.Join(dir, fmt.Sprintf("log.%010d", index))
}

type segment struct {
	index  uint32
	file   *os.File
	header segmentHeader
	size   uint32 // current logical size, including header
}

func createSegment(dir string, index uint32, maxSize uint32, cipherBlock uint32) (*segment, error) {
	path := segmentName(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0640)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "create log segment")
	}
	hdr := segmentHeader{
		magic:       segmentMagic,
		byteOrder:   segmentByteOrder,
		version:     segmentFormatVers,
		segmentSize: maxSize,
		cipherBlock: cipherBlock,
	}
	if _, err := f.Write(hdr.encode()); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoError, err, "write log segment header")
	}
	return &segment{index: index, file: f, header: hdr, size: segmentHeaderSize}, nil
}

func openSegment(dir string, index uint32) (*segment, error) {
	path := segmentName(dir, index)
	f, err := os.OpenFile(path, os.O_RDWR, 0640)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "open log segment")
	}
	buf := make([]byte, segmentHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Corruption, err, "read log segment header")
	}
	hdr, err := decodeSegmentHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoError, err, "stat log segment")
	}
	return &segment{index: index, file: f, header: hdr, size: uint32(fi.Size())}, nil
}

func (s *segment) close() error {
	return s.file.Close()
}
