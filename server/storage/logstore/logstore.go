// Package logstore persists step output as record-framed log files, one
// file per matrix cell. Records survive torn writes: a reader stops at the
// first frame that does not check out instead of failing the whole file.
package logstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

const Version1 uint32 = 0x01
const CurrentVersion = Version1

// FileHeaderSizeBytes has a 4 byte version number and 4 reserved bytes.
const FileHeaderSizeBytes = 8

const MagicNumberSeparatorLong uint64 = 0x6A3F29

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Store hands out per-cell readers and writers under a common root,
// laid out as <root>/<runID>/<cellID>.log.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(runID, cellID string) string {
	return filepath.Join(s.root, runID, cellID+".log")
}

func (s *Store) OpenWriter(runID, cellID string) (*Writer, error) {
	p := s.path(runID, cellID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return OpenWriter(p)
}

// ReadAll returns every intact record of a cell log in order. A missing
// file reads as no records, so callers can tail a cell that has not
// produced output yet.
func (s *Store) ReadAll(runID, cellID string) ([][]byte, error) {
	r, err := OpenReader(s.path(runID, cellID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	records := make([][]byte, 0)
	for {
		rec, err := r.ReadNext()
		if err != nil {
			return records, nil
		}
		records = append(records, rec)
	}
}

// Tail returns the last n records of a cell log.
func (s *Store) Tail(runID, cellID string, n int) ([][]byte, error) {
	records, err := s.ReadAll(runID, cellID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (s *Store) RemoveRun(runID string) error {
	return os.RemoveAll(filepath.Join(s.root, runID))
}

type Writer struct {
	f      *os.File
	offset uint64
}

// OpenWriter opens the log file for appending, stamping the file header
// when the file is new.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w := &Writer{f: f, offset: uint64(info.Size())}
	if info.Size() == 0 {
		var header [FileHeaderSizeBytes]byte
		binary.LittleEndian.PutUint32(header[0:4], CurrentVersion)
		if _, err := f.Write(header[:]); err != nil {
			f.Close()
			return nil, err
		}
		w.offset = FileHeaderSizeBytes
	}
	return w, nil
}

// Write appends one record and returns the offset it starts at. Each
// record frames as uvarint magic, uvarint payload size, crc32c of the
// payload, payload bytes.
func (w *Writer) Write(record []byte) (uint64, error) {
	start := w.offset
	var scratch [2*binary.MaxVarintLen64 + 4]byte
	n := binary.PutUvarint(scratch[:], MagicNumberSeparatorLong)
	n += binary.PutUvarint(scratch[n:], uint64(len(record)))
	binary.LittleEndian.PutUint32(scratch[n:], crc32.Checksum(record, castagnoli))
	n += 4

	if _, err := w.f.Write(scratch[:n]); err != nil {
		return 0, err
	}
	if _, err := w.f.Write(record); err != nil {
		return 0, err
	}
	w.offset += uint64(n) + uint64(len(record))
	return start, nil
}

// WriteSync appends the record and forces it to stable storage.
func (w *Writer) WriteSync(record []byte) (uint64, error) {
	off, err := w.Write(record)
	if err != nil {
		return 0, err
	}
	return off, w.f.Sync()
}

func (w *Writer) Size() uint64 {
	return w.offset
}

func (w *Writer) Close() error {
	return w.f.Close()
}

type Reader struct {
	f   *os.File
	buf *countingReader
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	header := make([]byte, FileHeaderSizeBytes)
	if _, err := f.Read(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("logstore: short file header: %w", err)
	}
	version := binary.LittleEndian.Uint32(header[0:4])
	if version < Version1 || version > CurrentVersion {
		f.Close()
		return nil, fmt.Errorf("logstore: version mismatch, expected %d to %d but was %d", Version1, CurrentVersion, version)
	}
	return &Reader{f: f, buf: newCountingReader(f)}, nil
}

// ReadNext returns the next record. Any framing damage, a torn tail
// included, reads as end of file.
func (r *Reader) ReadNext() ([]byte, error) {
	magic, err := binary.ReadUvarint(r.buf)
	if err != nil || magic != MagicNumberSeparatorLong {
		return nil, errEndOfRecords
	}
	size, err := binary.ReadUvarint(r.buf)
	if err != nil {
		return nil, errEndOfRecords
	}
	var crcBytes [4]byte
	if _, err := r.buf.ReadFull(crcBytes[:]); err != nil {
		return nil, errEndOfRecords
	}
	record := make([]byte, size)
	if _, err := r.buf.ReadFull(record); err != nil {
		return nil, errEndOfRecords
	}
	if crc32.Checksum(record, castagnoli) != binary.LittleEndian.Uint32(crcBytes[:]) {
		return nil, errEndOfRecords
	}
	return record, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}

var errEndOfRecords = fmt.Errorf("logstore: end of records")
