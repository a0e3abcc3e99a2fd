package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the journal binary format.
const (
	// MagicByte marks the start of every frame.
	MagicByte = 0xA5

	// HeaderSize is the fixed frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10

	// MaxPayload caps a single frame. A larger length field means a damaged header.
	MaxPayload = 16 << 20
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not a journal.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended abruptly (e.g., power loss during write).
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// OpCode tags the payload of a frame. Its meaning belongs to the writer.
type OpCode byte

// Frame is one journal entry.
type Frame struct {
	Op      OpCode
	Payload []byte
}

// EncodeFrame renders a frame as [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)].
func EncodeFrame(op OpCode, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = MagicByte
	buf[1] = byte(op)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[6:10], crc32.ChecksumIEEE(payload))
	copy(buf[HeaderSize:], payload)
	return buf
}

// FrameWriter writes frames to an io.Writer, one Write call per frame.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteFrame(op OpCode, payload []byte) error {
	_, err := fw.w.Write(EncodeFrame(op, payload))
	return err
}

// ReadFrame reads and verifies the next frame. It returns the frame, the
// number of bytes it occupied and an error. io.EOF is returned only at a
// clean frame boundary.
func ReadFrame(r io.Reader) (Frame, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])
	if length > MaxPayload {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, HeaderSize, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return Frame{}, HeaderSize + int(length), ErrChecksumMismatch
	}
	return Frame{Op: OpCode(header[1]), Payload: payload}, HeaderSize + int(length), nil
}
