// This package defines a common id type used for messages and inbound events. IDs are
// random 16 byte values compatible with UUID string form.
package ids

import (
	"bytes"

	"github.com/google/uuid"
)

type ID [16]byte

func NewID() ID {
	return ID(uuid.New())
}

// IDFromBytes copies up to 16 bytes into an ID. A short slice zero-pads rather
// than panicking.
func IDFromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}

func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
