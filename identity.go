package watermark

import (
	"strings"

	"github.com/google/uuid"
)

// IDGenerator produces the random part of overlay element ids.
type IDGenerator func() string

// RandomID is the default IDGenerator: the random tail of a UUID v7, short
// enough for an id attribute and unique per mount.
func RandomID() string {
	id := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	return id[len(id)-12:]
}

// Identity names the two DOM elements of one overlay instance. It is fixed
// for the lifetime of a mount.
type Identity struct {
	WrapperID   string
	WatermarkID string
}

// NewIdentity generates a fresh identity. A nil gen uses RandomID.
func NewIdentity(gen IDGenerator) Identity {
	if gen == nil {
		gen = RandomID
	}
	return Identity{
		WrapperID:   "watermark-wrapper-" + gen(),
		WatermarkID: "watermark-" + gen(),
	}
}
