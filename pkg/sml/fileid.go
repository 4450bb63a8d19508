package sml

import (
	"strconv"
	"sync/atomic"
)

// FileIDGenerator produces the ASCII request-file-id carried by
// PublicOpenReq, independent of the trx counter. It is a plain
// monotonic counter seeded once at construction; callers needing
// process-unique ids across restarts should seed from a persisted value.
type FileIDGenerator struct {
	counter uint64
}

// NewFileIDGenerator creates a generator starting at seed+1.
func NewFileIDGenerator(seed uint64) *FileIDGenerator {
	return &FileIDGenerator{counter: seed}
}

// Next returns the next file id as a decimal ASCII byte string.
func (g *FileIDGenerator) Next() []byte {
	n := atomic.AddUint64(&g.counter, 1)
	return []byte(strconv.FormatUint(n, 10))
}
