package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"verlock/pkg/logging"
	"verlock/pkg/primitives"
)

// Frame layout, one frame per applied batch:
//
//	u32 bodyLen | u32 crc32(body) | body
//
// body:
//
//	u16 count, then per write:
//	u64 version | u16 keyLen | key | u32 payloadLen | payload
//
// Because a whole batch lives in one frame, replay applies it all or not
// at all: a torn tail fails the length or CRC check and is truncated.
const (
	frameHeaderBytes = 8
	maxKeyBytes      = 1<<16 - 1
)

// logWrite is one record mutation inside a frame.
type logWrite struct {
	key     primitives.Key
	version primitives.Version
	payload []byte
}

// payloadLoc points at a payload's bytes inside the log file.
type payloadLoc struct {
	offset int64
	length uint32
}

// Log is the append-only record log. It is not safe for concurrent use;
// the store's mutex serializes all access.
type Log struct {
	file *os.File
	path string
	size int64 // append position, maintained by Append and Replay
	sync bool
}

// OpenLog opens (creating if needed) the record log at path. Replay must
// be called before the first Append so the append position lands after
// the last intact frame.
func OpenLog(path string, syncOnCommit bool) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("open record log %s: %w", path, err)
	}
	return &Log{file: file, path: path, sync: syncOnCommit}, nil
}

// Append writes one frame containing all the given writes and returns
// the location of each payload, in input order.
func (l *Log) Append(writes []logWrite) ([]payloadLoc, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	if len(writes) > maxKeyBytes {
		return nil, fmt.Errorf("batch of %d writes exceeds frame capacity", len(writes))
	}

	var body bytes.Buffer
	locs := make([]payloadLoc, len(writes))

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(writes)))
	body.Write(count[:])

	for i, w := range writes {
		if len(w.key) > maxKeyBytes {
			return nil, fmt.Errorf("key %q exceeds %d bytes", w.key, maxKeyBytes)
		}

		var scratch [8]byte
		binary.BigEndian.PutUint64(scratch[:], uint64(w.version))
		body.Write(scratch[:])
		binary.BigEndian.PutUint16(scratch[:2], uint16(len(w.key)))
		body.Write(scratch[:2])
		body.WriteString(string(w.key))
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(w.payload)))
		body.Write(scratch[:4])

		locs[i] = payloadLoc{
			offset: l.size + frameHeaderBytes + int64(body.Len()),
			length: uint32(len(w.payload)),
		}
		body.Write(w.payload)
	}

	frame := make([]byte, frameHeaderBytes+body.Len())
	binary.BigEndian.PutUint32(frame[0:4], uint32(body.Len()))
	binary.BigEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body.Bytes()))
	copy(frame[frameHeaderBytes:], body.Bytes())

	if _, err := l.file.WriteAt(frame, l.size); err != nil {
		return nil, fmt.Errorf("append to record log: %w", err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return nil, fmt.Errorf("sync record log: %w", err)
		}
	}

	l.size += int64(len(frame))
	return locs, nil
}

// Replay scans every intact frame from the start of the log, invoking fn
// for each write in order. A torn or corrupt tail is truncated so the
// next Append lands on a clean boundary; everything before it is kept.
func (l *Log) Replay(fn func(key primitives.Key, version primitives.Version, loc payloadLoc)) error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat record log: %w", err)
	}
	fileSize := info.Size()

	var pos int64
	header := make([]byte, frameHeaderBytes)

	for pos < fileSize {
		if pos+frameHeaderBytes > fileSize {
			break // torn header
		}
		if _, err := l.file.ReadAt(header, pos); err != nil {
			return fmt.Errorf("read frame header at %d: %w", pos, err)
		}

		bodyLen := int64(binary.BigEndian.Uint32(header[0:4]))
		wantCRC := binary.BigEndian.Uint32(header[4:8])
		if pos+frameHeaderBytes+bodyLen > fileSize {
			break // torn body
		}

		body := make([]byte, bodyLen)
		if _, err := l.file.ReadAt(body, pos+frameHeaderBytes); err != nil {
			return fmt.Errorf("read frame body at %d: %w", pos, err)
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			break // corrupt tail
		}

		if err := l.replayFrame(body, pos, fn); err != nil {
			return fmt.Errorf("frame at %d: %w", pos, err)
		}
		pos += frameHeaderBytes + bodyLen
	}

	if pos < fileSize {
		logging.WithOp("replay").Warn("truncating torn record log tail",
			"path", l.path, "good_bytes", pos, "file_bytes", fileSize)
		if err := l.file.Truncate(pos); err != nil {
			return fmt.Errorf("truncate record log: %w", err)
		}
	}

	l.size = pos
	return nil
}

// replayFrame decodes one verified frame body. framePos is the offset of
// the frame header in the file, used to reconstruct payload locations.
func (l *Log) replayFrame(body []byte, framePos int64, fn func(primitives.Key, primitives.Version, payloadLoc)) error {
	r := bytes.NewReader(body)

	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}

	for i := uint16(0); i < count; i++ {
		var version uint64
		if err := binary.Read(r, binary.BigEndian, &version); err != nil {
			return err
		}
		var keyLen uint16
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return err
		}
		var payloadLen uint32
		if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
			return err
		}

		bodyOffset := int64(len(body)) - int64(r.Len())
		loc := payloadLoc{
			offset: framePos + frameHeaderBytes + bodyOffset,
			length: payloadLen,
		}
		if _, err := r.Seek(int64(payloadLen), io.SeekCurrent); err != nil {
			return err
		}

		fn(primitives.Key(key), primitives.Version(version), loc)
	}

	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after %d writes", r.Len(), count)
	}
	return nil
}

// ReadPayload fetches a payload's bytes from the log file.
func (l *Log) ReadPayload(loc payloadLoc) ([]byte, error) {
	buf := make([]byte, loc.length)
	if _, err := l.file.ReadAt(buf, loc.offset); err != nil {
		return nil, fmt.Errorf("read payload at %d: %w", loc.offset, err)
	}
	return buf, nil
}

// Close syncs and closes the underlying file.
func (l *Log) Close() error {
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync record log on close: %w", err)
	}
	return l.file.Close()
}
