package logmgr

import (
	"os"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// Cursor walks the log forward or backward, transparently opening
// neighboring segments at a file boundary (spec §4.2 "cursor").
type Cursor struct {
	dir  string
	pos  LSN
	seg  *segment
	segs []uint32 // cached sorted segment indices, refreshed on demand
}

// NewCursor opens a cursor over the log under dir.
func NewCursor(dir string) (*Cursor, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, errs.New(errs.NotFound, "log is empty")
	}
	return &Cursor{dir: dir, segs: segs}, nil
}

func (c *Cursor) openSeg(index uint32) error {
	if c.seg != nil && c.seg.index == index {
		return nil
	}
	if c.seg != nil {
		c.seg.close()
		c.seg = nil
	}
	seg, err := openSegment(c.dir, index)
	if err != nil {
		return err
	}
	c.seg = seg
	return nil
}

// First positions the cursor at the first record of the earliest
// segment and returns it.
func (c *Cursor) First() (Record, LSN, error) {
	if len(c.segs) == 0 {
		return Record{}, LSN{}, errs.New(errs.NotFound, "log is empty")
	}
	if err := c.openSeg(c.segs[0]); err != nil {
		return Record{}, LSN{}, err
	}
	c.pos = LSN{File: c.seg.index, Offset: segmentHeaderSize}
	return c.readAt(c.pos)
}

// Last positions the cursor at the final valid record in the log.
func (c *Cursor) Last() (Record, LSN, error) {
	if len(c.segs) == 0 {
		return Record{}, LSN{}, errs.New(errs.NotFound, "log is empty")
	}
	// Walk forward from the start of the last segment to find its
	// final valid frame; a torn tail (spec §8 S5) means the nominal
	// end-of-file is not necessarily the last valid record.
	last := c.segs[len(c.segs)-1]
	if err := c.openSeg(last); err != nil {
		return Record{}, LSN{}, err
	}
	var prevRec Record
	var prevLSN LSN
	found := false
	offset := uint32(segmentHeaderSize)
	for {
		rec, lsn, err := c.readAt(LSN{File: last, Offset: offset})
		if err != nil {
			break
		}
		prevRec, prevLSN, found = rec, lsn, true
		offset = c.nextOffset(lsn)
	}
	if !found {
		return Record{}, LSN{}, errs.New(errs.NotFound, "segment has no valid records")
	}
	c.pos = prevLSN
	return prevRec, prevLSN, nil
}

// Set positions the cursor at exactly lsn and returns the record there.
func (c *Cursor) Set(lsn LSN) (Record, LSN, error) {
	if err := c.openSeg(lsn.File); err != nil {
		return Record{}, LSN{}, err
	}
	c.pos = lsn
	return c.readAt(lsn)
}

// Next advances the cursor and returns the following record, crossing
// a segment boundary transparently. Returns NotFound at true end of
// log or at a checksum mismatch (torn tail, spec §8 S5).
func (c *Cursor) Next() (Record, LSN, error) {
	next := c.nextOffset(c.pos)
	lsn := LSN{File: c.pos.File, Offset: next}
	rec, got, err := c.readAt(lsn)
	if err == nil {
		c.pos = got
		return rec, got, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return Record{}, LSN{}, err
	}
	// try the next segment
	idx := c.segmentIndexOf(c.pos.File)
	if idx < 0 || idx+1 >= len(c.segs) {
		return Record{}, LSN{}, errs.New(errs.NotFound, "no next record")
	}
	nextSeg := c.segs[idx+1]
	if err := c.openSeg(nextSeg); err != nil {
		return Record{}, LSN{}, err
	}
	start := LSN{File: nextSeg, Offset: segmentHeaderSize}
	rec2, got2, err2 := c.readAt(start)
	if err2 != nil {
		return Record{}, LSN{}, err2
	}
	c.pos = got2
	return rec2, got2, nil
}

// Prev moves the cursor backward one record, crossing a segment
// boundary transparently.
func (c *Cursor) Prev() (Record, LSN, error) {
	if c.pos.Offset == segmentHeaderSize {
		idx := c.segmentIndexOf(c.pos.File)
		if idx <= 0 {
			return Record{}, LSN{}, errs.New(errs.NotFound, "no previous record")
		}
		prevSeg := c.segs[idx-1]
		if err := c.openSeg(prevSeg); err != nil {
			return Record{}, LSN{}, err
		}
		return c.lastRecordOfSegment(prevSeg)
	}
	// scan the current segment from the start to find the record
	// immediately before pos; the reverse-offset isn't stored inline.
	if err := c.openSeg(c.pos.File); err != nil {
		return Record{}, LSN{}, err
	}
	offset := uint32(segmentHeaderSize)
	var prevLSN LSN
	var prevRec Record
	found := false
	for offset < c.pos.Offset {
		rec, lsn, err := c.readAt(LSN{File: c.pos.File, Offset: offset})
		if err != nil {
			break
		}
		prevRec, prevLSN, found = rec, lsn, true
		offset = c.nextOffset(lsn)
	}
	if !found {
		return Record{}, LSN{}, errs.New(errs.NotFound, "no previous record")
	}
	c.pos = prevLSN
	return prevRec, prevLSN, nil
}

func (c *Cursor) lastRecordOfSegment(index uint32) (Record, LSN, error) {
	offset := uint32(segmentHeaderSize)
	var prevLSN LSN
	var prevRec Record
	found := false
	for {
		rec, lsn, err := c.readAt(LSN{File: index, Offset: offset})
		if err != nil {
			break
		}
		prevRec, prevLSN, found = rec, lsn, true
		offset = c.nextOffset(lsn)
	}
	if !found {
		return Record{}, LSN{}, errs.New(errs.NotFound, "segment has no valid records")
	}
	c.pos = prevLSN
	return prevRec, prevLSN, nil
}

func (c *Cursor) segmentIndexOf(index uint32) int {
	for i, v := range c.segs {
		if v == index {
			return i
		}
	}
	return -1
}

// nextOffset computes the offset immediately following the frame at
// pos, re-reading its stored length to account for padding.
func (c *Cursor) nextOffset(pos LSN) uint32 {
	lenBuf := make([]byte, 4)
	if _, err := c.seg.file.ReadAt(lenBuf, int64(pos.Offset)); err != nil {
		return pos.Offset // caller's subsequent read will fail cleanly
	}
	logicalLen := be32(lenBuf)
	padded := alignUp(frameOverhead+logicalLen, c.seg.header.cipherBlock)
	return pos.Offset + padded
}

// readAt reads and validates the frame at lsn. A checksum mismatch, a
// truncated frame, or reading past the segment's written extent all
// surface as NotFound: to recovery, a torn tail is not corruption
// (spec §4.2 "checksum does not match terminates the log ... for
// recovery purposes").
func (c *Cursor) readAt(lsn LSN) (Record, LSN, error) {
	if err := c.openSeg(lsn.File); err != nil {
		return Record{}, LSN{}, err
	}
	if lsn.Offset+frameOverhead > c.seg.size {
		return Record{}, LSN{}, errs.New(errs.NotFound, "past end of log")
	}
	header := make([]byte, frameOverhead)
	if _, err := c.seg.file.ReadAt(header, int64(lsn.Offset)); err != nil {
		if err == os.ErrClosed {
			return Record{}, LSN{}, errs.Wrap(errs.IoError, err, "read log frame header")
		}
		return Record{}, LSN{}, errs.New(errs.NotFound, "past end of log")
	}
	logicalLen := be32(header[0:4])
	wantChecksum := be32(header[4:8])
	if lsn.Offset+frameOverhead+logicalLen > c.seg.size {
		return Record{}, LSN{}, errs.New(errs.NotFound, "torn record at end of log")
	}
	logical := make([]byte, logicalLen)
	if _, err := c.seg.file.ReadAt(logical, int64(lsn.Offset+frameOverhead)); err != nil {
		return Record{}, LSN{}, errs.New(errs.NotFound, "torn record at end of log")
	}
	if checksum32(logical) != wantChecksum {
		return Record{}, LSN{}, errs.New(errs.NotFound, "checksum mismatch, torn tail")
	}
	rec, err := decodeRecord(logical)
	if err != nil {
		return Record{}, LSN{}, err
	}
	return rec, lsn, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Close releases the cursor's open segment handle.
func (c *Cursor) Close() error {
	if c.seg != nil {
		return c.seg.close()
	}
	return nil
}
