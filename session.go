// Scoped read/write/compact sessions over one table's index and data
// streams (§4.2). Every session is released on any exit path, mirroring
// the teacher's blockRead/blockWrite-then-deferred-unlock pattern in
// db.go — the replacement here is an in-process tableLock rather than
// an OS file lock.
package codex

import (
	"bufio"
	"fmt"
	"io"
)

const (
	bakSuffix = ".bak"
	tmpSuffix = ".tmp"

	// defaultReadBuffer backs openReadSession callers that don't have a
	// Config to hand (e.g. white-box tests opening a session directly).
	defaultReadBuffer = 64 * 1024
)

// streamReader adapts a stream's random-access ReadAt to the sequential
// io.Reader bufio.Reader expects, mirroring the teacher's
// io.SectionReader-plus-bufio.NewReader pattern (read.go) without
// requiring the stream to be backed by an *os.File.
type streamReader struct {
	s   stream
	pos int64
}

func (r *streamReader) Read(p []byte) (int, error) {
	n, err := r.s.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// readSession is a shared-lock view over a table's streams: a stable
// snapshot for the session's lifetime (§4.2 "Read session").
type readSession struct {
	lock       *tableLock
	index      stream
	data       stream
	ts         int64
	readBuffer int
	released   bool
}

func openReadSession(lock *tableLock, fs *fileSystem, indexName, dataName string, ts int64, readBuffer int) (*readSession, error) {
	if err := lock.AcquireShared(); err != nil {
		return nil, err
	}
	index, err := fs.open(indexName)
	if err != nil {
		lock.ReleaseShared()
		return nil, err
	}
	data, err := fs.open(dataName)
	if err != nil {
		index.Close()
		lock.ReleaseShared()
		return nil, err
	}
	if readBuffer <= 0 {
		readBuffer = defaultReadBuffer
	}
	return &readSession{lock: lock, index: index, data: data, ts: ts, readBuffer: readBuffer}, nil
}

// readIndex returns the full index blob, or nil if the stream is empty.
// Reads through a buffered reader sized by Config.ReadBuffer (§4.3
// "Loading"), rather than one large ReadAt, so callers that configure a
// small buffer bound the size of any single underlying read.
func (s *readSession) readIndex() ([]byte, error) {
	size, err := s.index.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	br := bufio.NewReaderSize(&streamReader{s: s.index}, s.readBuffer)
	buf := make([]byte, size)
	for off := 0; off < len(buf); off += s.readBuffer {
		end := min(off+s.readBuffer, len(buf))
		if _, err := io.ReadFull(br, buf[off:end]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}
	return buf, nil
}

// readData reads length bytes at offset from the data stream.
func (s *readSession) readData(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := s.data.ReadAt(buf, offset); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: slot [%d,%d) extends past the data stream", ErrCorruption, offset, offset+length)
		}
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return buf, nil
}

// Release is idempotent-unsafe by design (§5 "Double-release is an
// error"); callers must release exactly once.
func (s *readSession) Release() error {
	if s.released {
		return fmt.Errorf("%w: session already released", ErrUsageError)
	}
	s.released = true
	defer s.lock.ReleaseShared()
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.data.Close()
}

// writeSession is an exclusive-lock view adding mutation operations
// (§4.2 "Write session").
type writeSession struct {
	readSession
	purged bool
	sync   bool
}

func openWriteSession(lock *tableLock, fs *fileSystem, indexName, dataName string, ts int64, readBuffer int, sync bool) (*writeSession, error) {
	if err := lock.AcquireExclusive(); err != nil {
		return nil, err
	}
	index, err := fs.open(indexName)
	if err != nil {
		lock.ReleaseExclusive()
		return nil, err
	}
	data, err := fs.open(dataName)
	if err != nil {
		index.Close()
		lock.ReleaseExclusive()
		return nil, err
	}
	if readBuffer <= 0 {
		readBuffer = defaultReadBuffer
	}
	return &writeSession{readSession: readSession{lock: lock, index: index, data: data, ts: ts, readBuffer: readBuffer}, sync: sync}, nil
}

// writeData writes b at offset and, when the session was opened with
// sync writes enabled (Config.SyncWrites), fsyncs the data stream before
// returning.
func (s *writeSession) writeData(b []byte, offset int64) error {
	if _, err := s.data.WriteAt(b, offset); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if s.sync {
		if err := s.data.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}
	return nil
}

func (s *writeSession) copyData(src, dst, length int64) error {
	buf := make([]byte, length)
	if _, err := s.data.ReadAt(buf, src); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if _, err := s.data.WriteAt(buf, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return nil
}

func (s *writeSession) cropData(newLength int64) error {
	return s.data.Truncate(newLength)
}

// writeIndex rewrites the index stream from zero, truncates to len(b),
// and advances ts — the spec requires ts to strictly increase on every
// successful write (§3 invariants).
func (s *writeSession) writeIndex(b []byte) error {
	if _, err := s.index.WriteAt(b, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if err := s.index.Truncate(int64(len(b))); err != nil {
		return err
	}
	if s.sync {
		if err := s.index.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}
	s.ts++
	return nil
}

// purge truncates both streams to zero.
func (s *writeSession) purge() error {
	if err := s.index.Truncate(0); err != nil {
		return err
	}
	if err := s.data.Truncate(0); err != nil {
		return err
	}
	s.purged = true
	return nil
}

func (s *writeSession) Release() error {
	if s.released {
		return fmt.Errorf("%w: session already released", ErrUsageError)
	}
	s.released = true
	defer s.lock.ReleaseExclusive()
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.data.Close()
}

// compactSession is a writeSession whose data stream has been swapped
// for a fresh file, with the previous contents readable through a side
// file for the duration of the compaction (§4.2 "Compact session").
//
// The spec's description ("rename current data file to a side name,
// open a fresh empty data file") has a window where a crash between the
// rename and the fresh-file create leaves no current data file at all.
// This implementation instead opens the fresh file under a temporary
// name first and swaps it into place only once the compaction has
// fully committed, so at every point either the original or the
// temporary file is a complete, valid data stream (a REDESIGN FLAG fix
// over the naive rename-then-create sequence).
type compactSession struct {
	writeSession
	fs       *fileSystem
	dataName string
	bakName  string
	tmpName  string
	side     stream
	fresh    stream
	committed bool
}

func openCompactSession(lock *tableLock, fs *fileSystem, indexName, dataName string, ts int64, readBuffer int, sync bool) (*compactSession, error) {
	if err := lock.AcquireExclusive(); err != nil {
		return nil, err
	}
	index, err := fs.open(indexName)
	if err != nil {
		lock.ReleaseExclusive()
		return nil, err
	}
	bakName := dataName + bakSuffix
	tmpName := dataName + tmpSuffix

	if err := fs.rename(dataName, bakName); err != nil {
		lock.ReleaseExclusive()
		return nil, err
	}
	side, err := fs.open(bakName)
	if err != nil {
		fs.rename(bakName, dataName)
		lock.ReleaseExclusive()
		return nil, err
	}
	fresh, err := fs.open(tmpName)
	if err != nil {
		side.Close()
		fs.rename(bakName, dataName)
		lock.ReleaseExclusive()
		return nil, err
	}

	if readBuffer <= 0 {
		readBuffer = defaultReadBuffer
	}
	return &compactSession{
		writeSession: writeSession{readSession: readSession{lock: lock, index: index, data: fresh, ts: ts, readBuffer: readBuffer}, sync: sync},
		fs:           fs,
		dataName:     dataName,
		bakName:      bakName,
		tmpName:      tmpName,
		side:         side,
		fresh:        fresh,
	}, nil
}

// readSide reads length bytes at offset from the pre-compaction data,
// the source side of a move.
func (s *compactSession) readSide(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := s.side.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return buf, nil
}

// writeFresh writes to the new data stream being built.
func (s *compactSession) writeFresh(b []byte, offset int64) error {
	return s.writeData(b, offset)
}

// commit finalizes the compaction: closes both data handles, swaps the
// temp file into the table's data name, and deletes the side file. On
// any failure the side file is left in place so the table can be
// recovered (§6 ".data.bak").
func (s *compactSession) commit() error {
	if err := s.side.Close(); err != nil {
		return err
	}
	if err := s.fresh.Close(); err != nil {
		return err
	}
	if err := s.fs.rename(s.tmpName, s.dataName); err != nil {
		return err
	}
	if err := s.fs.remove(s.bakName); err != nil {
		return err
	}
	s.committed = true
	return nil
}

// Release closes the index handle and, if commit was never called,
// restores the original data file from the side copy.
func (s *compactSession) Release() error {
	if s.released {
		return fmt.Errorf("%w: session already released", ErrUsageError)
	}
	s.released = true
	defer s.lock.ReleaseExclusive()
	if err := s.index.Close(); err != nil {
		return err
	}
	if s.committed {
		return nil
	}
	s.fresh.Close()
	s.side.Close()
	s.fs.remove(s.tmpName)
	return s.fs.rename(s.bakName, s.dataName)
}
