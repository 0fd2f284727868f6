package outputpump

import (
	"encoding/binary"

	"fugue/internal/fugueid"
)

// OutputRecord is the WAL output-chunk record payload: the pane an
// output burst belongs to plus the raw bytes. Encoded with a tiny
// fixed header rather than JSON so a multi-megabyte output burst isn't
// doubled in size by escaping (mutation records, by contrast, are
// JSON).
type OutputRecord struct {
	PaneID fugueid.ID
	Bytes  []byte
}

func encodeOutputRecord(paneID fugueid.ID, data []byte) []byte {
	idBytes := []byte(paneID)
	buf := make([]byte, 2+len(idBytes)+len(data))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(idBytes)))
	copy(buf[2:], idBytes)
	copy(buf[2+len(idBytes):], data)
	return buf
}

// DecodeOutputRecord reverses encodeOutputRecord, used by daemon
// recovery to replay output-chunk WAL records into restored scrollback
// buffers.
func DecodeOutputRecord(payload []byte) (OutputRecord, error) {
	if len(payload) < 2 {
		return OutputRecord{}, errShortRecord
	}
	idLen := binary.BigEndian.Uint16(payload[:2])
	if len(payload) < 2+int(idLen) {
		return OutputRecord{}, errShortRecord
	}
	id := fugueid.ID(payload[2 : 2+idLen])
	data := payload[2+idLen:]
	return OutputRecord{PaneID: id, Bytes: append([]byte(nil), data...)}, nil
}

var errShortRecord = recordErr("outputpump: truncated output record")

type recordErr string

func (e recordErr) Error() string { return string(e) }
