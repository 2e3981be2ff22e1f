package pigpio

import (
	"encoding/binary"
	"fmt"
)

// Frame size constants, fixed by the daemon's socket interface.
const (
	// commandFrameSize is the size of a command or response frame.
	commandFrameSize = 16

	// notifyRecordSize is the size of one notification record.
	notifyRecordSize = 12
)

// Notification record flag bits.
const (
	// flagWatchdog marks a watchdog timeout record. The low five flag
	// bits carry the GPIO the watchdog fired for.
	flagWatchdog uint16 = 1 << 5

	// flagAlive marks a keep-alive record carrying no level change.
	flagAlive uint16 = 1 << 6

	// flagGPIOMask extracts the GPIO index from watchdog/alive flags.
	flagGPIOMask uint16 = 0x1F
)

// encodeCommand encodes a simple command frame: four little-endian 32-bit
// words [cmd, p1, p2, 0]. The zero extension length marks the frame as
// carrying no payload.
func encodeCommand(cmd, p1, p2 uint32) []byte {
	buf := make([]byte, commandFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], p1)
	binary.LittleEndian.PutUint32(buf[8:12], p2)
	// buf[12:16] stays zero
	return buf
}

// encodeExtended encodes an extended command frame: the 16-byte header with
// the extension length set to len(payload), followed by the payload bytes.
// The daemon rejects frames whose declared length does not match the bytes
// actually sent before the next header, so the payload is returned as part
// of one contiguous buffer.
func encodeExtended(cmd, p1, p2 uint32, payload []byte) []byte {
	buf := make([]byte, commandFrameSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], p1)
	binary.LittleEndian.PutUint32(buf[8:12], p2)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload))) //nolint:gosec // payloads are small
	copy(buf[commandFrameSize:], payload)
	return buf
}

// packWords packs uint32 values as consecutive little-endian words, the
// payload format for extended commands that carry word arguments.
func packWords(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// decodeResult extracts the daemon's result from a 16-byte response frame:
// the last four bytes as a signed little-endian 32-bit integer. The first
// twelve bytes echo request metadata and carry no meaning beyond framing.
func decodeResult(frame []byte) (int32, error) {
	if len(frame) != commandFrameSize {
		return 0, fmt.Errorf("%w: response frame %d bytes, want %d",
			ErrProtocolDesync, len(frame), commandFrameSize)
	}
	return int32(binary.LittleEndian.Uint32(frame[12:16])), nil //nolint:gosec // intentional sign reinterpretation
}

// notifyRecord is one level-change notification from the daemon.
type notifyRecord struct {
	// Seq is the daemon's record sequence number.
	Seq uint16

	// Flags carries watchdog/alive markers (see flag constants).
	Flags uint16

	// Tick is the daemon's microsecond clock, wrapping at 2^32.
	Tick uint32

	// Level is the current level of all 32 bank-1 GPIOs.
	Level uint32
}

// parseNotifyRecord decodes a 12-byte notification record.
func parseNotifyRecord(data []byte) (notifyRecord, error) {
	if len(data) != notifyRecordSize {
		return notifyRecord{}, fmt.Errorf("%w: notification record %d bytes, want %d",
			ErrProtocolDesync, len(data), notifyRecordSize)
	}
	return notifyRecord{
		Seq:   binary.LittleEndian.Uint16(data[0:2]),
		Flags: binary.LittleEndian.Uint16(data[2:4]),
		Tick:  binary.LittleEndian.Uint32(data[4:8]),
		Level: binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

// TickDelta returns the elapsed microseconds from start to end over the
// daemon's wrapping 32-bit clock. The unsigned subtraction wraps modulo
// 2^32, so the result is always in [0, 2^32).
func TickDelta(start, end uint32) uint32 {
	return end - start
}
