package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// MaxMessageSize is the maximum allowed protocol frame size (16MB).
const MaxMessageSize = 16 * 1024 * 1024

// ProtocolVersion is sent in the handshake reply.
const ProtocolVersion = "1"

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// Op names a store request.
type Op string

// Store operations
const (
	OpConnect  Op = "connect"
	OpCreate   Op = "create"
	OpSeal     Op = "seal"
	OpAbort    Op = "abort"
	OpGet      Op = "get"
	OpRelease  Op = "release"
	OpContains Op = "contains"
	OpDelete   Op = "delete"
	OpList     Op = "list"
	OpStats    Op = "stats"
)

// Request is a client request. Replies are result.Result envelopes.
type Request struct {
	Op        Op       `json:"op"`
	ID        ObjectID `json:"id"`
	Size      int64    `json:"size,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
	Client    string   `json:"client,omitempty"`
}

// Handshake is the reply to OpConnect.
type Handshake struct {
	Version  string `json:"version"`
	Session  uint64 `json:"session"`
	Dir      string `json:"dir"`
	Capacity int64  `json:"capacity"`
}

// Buffer locates the bytes of one object.
type Buffer struct {
	ID   ObjectID `json:"id"`
	Path string   `json:"path"`
	Size int64    `json:"size"`
}

// Fetched is the reply to OpGet. It always carries exactly one buffer.
type Fetched struct {
	Buffers []Buffer `json:"buffers"`
}

// ObjectInfo describes an object in a listing.
type ObjectInfo struct {
	ID        ObjectID  `json:"id"`
	Size      int64     `json:"size"`
	Sealed    bool      `json:"sealed"`
	Refs      int       `json:"refs"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats contains store statistics.
type Stats struct {
	Objects   int   `json:"objects"`
	Sealed    int   `json:"sealed"`
	BytesUsed int64 `json:"bytes_used"`
	Capacity  int64 `json:"capacity"`
	Sessions  int   `json:"sessions"`
}

// Empty is the value of replies that carry no data.
type Empty struct{}

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 || len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) // #nosec G115 - bounds checked above
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// WriteJSON encodes v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return WriteMessage(w, data)
}

// ReadJSON reads one frame and decodes it into v.
func ReadJSON(r io.Reader, v any) error {
	data, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}
