package node

import (
	"bytes"

	"github.com/google/uuid"
)

// Birth marks when a member process was started. The token makes a birth
// unique so a restarted process never reuses a previous identity.
type Birth struct {
	At    int64
	Token uuid.UUID
}

func (b Birth) OlderThan(o Birth) bool {
	if b.At != o.At {
		return b.At < o.At
	}
	return bytes.Compare(b.Token[:], o.Token[:]) < 0
}

func (b Birth) YoungerThan(o Birth) bool { return o.OlderThan(b) }
