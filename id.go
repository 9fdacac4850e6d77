package mailer

import (
	"database/sql/driver"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ID identifies a queued message. IDs are UUID v7 values, so their byte order
// follows creation time.
//
//nolint:recvcheck // Scan needs a pointer receiver, Value a value receiver.
type ID [16]byte

// ParseID parses any textual form accepted by uuid.Parse.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}

	return ID(u), nil
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed

	return nil
}

// Scan implements sql.Scanner. It accepts the raw 16 bytes of a binary column
// as well as the textual form.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		if len(v) == len(id) {
			copy(id[:], v)

			return nil
		}

		return id.UnmarshalText(v)
	case string:
		return id.UnmarshalText([]byte(v))
	case nil:
		return fmt.Errorf("%w: NULL", ErrInvalidID)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidID, src)
	}
}

// Value implements driver.Valuer with the raw bytes.
func (id ID) Value() (driver.Value, error) {
	return id[:], nil
}

// IDGenerator creates message identifiers.
type IDGenerator interface {
	New() (ID, error)
}

// UUIDv7Generator creates time-ordered IDs. IDs generated by one process are
// strictly increasing.
type UUIDv7Generator struct {
	rand io.Reader
}

// NewUUIDv7Generator returns a generator reading randomness from crypto/rand.
func NewUUIDv7Generator() *UUIDv7Generator {
	return &UUIDv7Generator{}
}

// New implements IDGenerator.
func (g *UUIDv7Generator) New() (ID, error) {
	var (
		u   uuid.UUID
		err error
	)
	if g.rand != nil {
		u, err = uuid.NewV7FromReader(g.rand)
	} else {
		u, err = uuid.NewV7()
	}
	if err != nil {
		return ID{}, fmt.Errorf("mailer: generate id: %w", err)
	}

	return ID(u), nil
}
