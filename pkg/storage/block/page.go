package block

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/dberror"
	"blocklock/pkg/primitives"
)

// IntSize is the encoded size of an int field.
const IntSize = 4

// Page is the in-memory contents of one block. Fields are addressed by byte
// offset: ints are 4-byte big-endian, strings are a 4-byte length followed
// by the bytes.
//
// Page guards its bytes with its own mutex so that concurrent readers under
// shared locks are safe. It does not take block locks; callers must.
type Page struct {
	id primitives.BlockID

	mu        sync.RWMutex
	data      []byte
	dirtiedBy int64
}

func newPage(id primitives.BlockID, size int) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

// ID returns the block this page holds.
func (p *Page) ID() primitives.BlockID {
	return p.id
}

// Size returns the page size in bytes.
func (p *Page) Size() int {
	return len(p.data)
}

// GetInt reads the int stored at offset.
func (p *Page) GetInt(offset int) (int32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.checkRange(offset, IntSize); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p.data[offset:])), nil
}

// SetInt writes v at offset on behalf of txnID.
func (p *Page) SetInt(txnID int64, offset int, v int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRange(offset, IntSize); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.data[offset:], uint32(v))
	p.dirtiedBy = txnID
	return nil
}

// GetString reads the string stored at offset.
func (p *Page) GetString(offset int) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.checkRange(offset, IntSize); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint32(p.data[offset:]))
	if err := p.checkRange(offset+IntSize, n); err != nil {
		return "", err
	}
	start := offset + IntSize
	return string(p.data[start : start+n]), nil
}

// SetString writes s at offset on behalf of txnID.
func (p *Page) SetString(txnID int64, offset int, s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRange(offset, StringSize(s)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.data[offset:], uint32(len(s)))
	copy(p.data[offset+IntSize:], s)
	p.dirtiedBy = txnID
	return nil
}

// StringSize is the number of bytes s occupies once written.
func StringSize(s string) int {
	return IntSize + len(s)
}

// IsDirty returns the transaction that last wrote the page, if any write
// happened since the page was last marked clean.
func (p *Page) IsDirty() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirtiedBy, p.dirtiedBy != 0
}

// MarkClean forgets the last writer.
func (p *Page) MarkClean() {
	p.mu.Lock()
	p.dirtiedBy = 0
	p.mu.Unlock()
}

// Snapshot returns a copy of the page bytes.
func (p *Page) Snapshot() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Restore overwrites the page with an earlier snapshot and marks it clean.
func (p *Page) Restore(image []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(image) != len(p.data) {
		return errors.AssertionFailedf("restoring %s: image is %d bytes, page is %d", p.id, len(image), len(p.data))
	}
	copy(p.data, image)
	p.dirtiedBy = 0
	return nil
}

func (p *Page) checkRange(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(p.data) {
		err := dberror.New(dberror.ErrCategoryUser, "OFFSET_OUT_OF_RANGE", "field does not fit in block")
		err.Detail = errors.Newf("%s: %d bytes at offset %d, block size %d", p.id, n, offset, len(p.data)).Error()
		err.Component = "BlockStore"
		return err
	}
	return nil
}
