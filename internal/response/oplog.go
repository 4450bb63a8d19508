package response

import (
	"fmt"
	"sort"

	"github.com/smgw-cluster/segw-core/internal/store"
)

// TableOpLog adapts a generic store.Table into an OpLogReader: the op-log
// is just another named cache table, rows keyed by a
// monotonic sequence with an OpLogRecord payload, the same row-keyed
// shape every other cluster table uses.
type TableOpLog struct {
	Table *store.Table
}

// Append inserts rec under a fresh key, tagged with source.
func (t *TableOpLog) Append(rec OpLogRecord, source string) {
	key := fmt.Sprintf("oplog-%08x-%06x", rec.ActTime, t.Table.Size())
	t.Table.Insert(key, rec, uint64(rec.ActTime), source)
}

// Query returns every record whose ActTime falls in [begin, end], the
// window GetProfileList.Req carries, ordered by ActTime ascending.
func (t *TableOpLog) Query(begin, end uint32) ([]OpLogRecord, error) {
	var out []OpLogRecord
	t.Table.Loop(func(rec store.Record) bool {
		r, ok := rec.Data.(OpLogRecord)
		if ok && r.ActTime >= begin && r.ActTime <= end {
			out = append(out, r)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ActTime < out[j].ActTime })
	return out, nil
}
