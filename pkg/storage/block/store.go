// Package block is a minimal in-memory block store: fixed-size pages keyed
// by primitives.BlockID, with typed field access. It stands in for the disk
// layer so that transactions have something to lock and modify.
package block

import (
	"sync"

	"blocklock/pkg/primitives"
)

// DefaultBlockSize is the page size used when none is configured.
const DefaultBlockSize = 400

// Store holds every page that has been touched. Pages are created zeroed on
// first access and never evicted.
type Store struct {
	blockSize int

	mu    sync.Mutex
	pages map[primitives.BlockID]*Page
}

func NewStore(blockSize int) *Store {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Store{
		blockSize: blockSize,
		pages:     make(map[primitives.BlockID]*Page),
	}
}

func (s *Store) BlockSize() int {
	return s.blockSize
}

// Page returns the page for id, creating it if needed.
func (s *Store) Page(id primitives.BlockID) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[id]
	if !ok {
		p = newPage(id, s.blockSize)
		s.pages[id] = p
	}
	return p
}

// Len returns the number of pages created so far.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}
