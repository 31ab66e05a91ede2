package primitives

import (
	"cmp"
	"fmt"

	"github.com/cockroachdb/redact"
)

// BlockID identifies one lockable, disk-block-sized unit: a container name
// (typically a file) and the block's index inside it.
//
// BlockID is a plain value. Two identifiers are equal iff both fields are
// equal, so it can be used directly as a map key. Identifiers are totally
// ordered by (Container, Index), which gives deterministic iteration order
// wherever a set of blocks must be walked.
type BlockID struct {
	Container string
	Index     BlockIndex
}

// NewBlockID constructs a BlockID. It performs no I/O.
func NewBlockID(container string, index BlockIndex) BlockID {
	return BlockID{Container: container, Index: index}
}

// Equals reports whether two identifiers name the same block.
func (b BlockID) Equals(other BlockID) bool {
	return b == other
}

// Compare orders identifiers by container name, then by block index.
// It returns -1, 0 or +1.
func (b BlockID) Compare(other BlockID) int {
	if c := cmp.Compare(b.Container, other.Container); c != 0 {
		return c
	}
	return cmp.Compare(b.Index, other.Index)
}

// Less reports whether b sorts before other.
func (b BlockID) Less(other BlockID) bool {
	return b.Compare(other) < 0
}

// String returns the identifier as "container[index]".
func (b BlockID) String() string {
	return fmt.Sprintf("%s[%d]", b.Container, b.Index)
}

// SafeFormat implements redact.SafeFormatter. Block identifiers carry no
// user data, so they are reported unredacted in error messages.
func (b BlockID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s[%d]", redact.SafeString(b.Container), redact.SafeUint(b.Index))
}
