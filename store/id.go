package store

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// IDLength is the width of an object id in bytes.
const IDLength = 20

// ObjectID addresses an object in the store.
type ObjectID [IDLength]byte

// IDFromBytes returns an ObjectID holding b.
func IDFromBytes(b []byte) (ObjectID, error) {
	var oid ObjectID
	if len(b) != IDLength {
		return oid, errs.Newf(errs.InvalidId, "wrong id length: %d (should be %d)", len(b), IDLength)
	}
	copy(oid[:], b)
	return oid, nil
}

// IDFromString returns an ObjectID holding the raw bytes of s.
func IDFromString(s string) (ObjectID, error) {
	return IDFromBytes([]byte(s))
}

// ParseHex decodes the hex form produced by String.
func ParseHex(s string) (ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ObjectID{}, errs.Wrap(err, errs.InvalidId, "bad hex id")
	}
	return IDFromBytes(b)
}

// RandomID returns a new random id: a version 4 UUID followed by four
// random bytes.
func RandomID() ObjectID {
	var oid ObjectID
	u := uuid.New()
	copy(oid[:], u[:])
	_, _ = rand.Read(oid[len(u):])
	return oid
}

// String returns the hex form of the id.
func (oid ObjectID) String() string {
	return hex.EncodeToString(oid[:])
}

// Binary returns the raw bytes of the id as a string.
func (oid ObjectID) Binary() string {
	return string(oid[:])
}

// MarshalText encodes the id as hex.
func (oid ObjectID) MarshalText() ([]byte, error) {
	return []byte(oid.String()), nil
}

// UnmarshalText decodes a hex id.
func (oid *ObjectID) UnmarshalText(b []byte) error {
	id, err := ParseHex(string(b))
	if err != nil {
		return err
	}
	*oid = id
	return nil
}
