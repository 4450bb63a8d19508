package store

import (
	"fmt"
	"sync"
)

// AccessMode distinguishes read from write access in the nesting
// checks below.
type AccessMode int

const (
	ReadAccess AccessMode = iota
	WriteAccess
)

// ErrNestedWrite is returned when a second write access on the same
// table is requested while one is already held.
var ErrNestedWrite = fmt.Errorf("store: nested write access on same table")

// ErrNestedReadUnderWrite is returned when a read access on a table is
// requested while a write access on that same table is already held.
var ErrNestedReadUnderWrite = fmt.Errorf("store: nested read-under-write access on same table")

// accessState tracks the single outstanding access mode per table
// name; access is serialised per table via a token held for the
// duration of an operation. It does
// not track ownership by caller identity — Go has no implicit
// thread-local state — callers are expected to acquire one Access per
// logical operation and release it before starting another on the
// same table, the same discipline a *sqlx.Tx scoped to one function
// body gives the SQL layer.
type accessState struct {
	mu      sync.Mutex
	holders map[string]AccessMode
	nested  map[string]int
}

func newAccessState() *accessState {
	return &accessState{holders: make(map[string]AccessMode), nested: make(map[string]int)}
}

// Access is a held read or write token on one table. Release must be
// called exactly once to give the table back.
type Access struct {
	state *accessState
	table string
	mode  AccessMode
}

// Acquirer hands out Access tokens, enforcing the no-nested-write and
// no-nested-read-under-write invariants across everything using
// the same Acquirer instance.
type Acquirer struct {
	state *accessState
}

// NewAcquirer creates a fresh access-token issuer. One Acquirer should
// back all access to a given set of tables.
func NewAcquirer() *Acquirer {
	return &Acquirer{state: newAccessState()}
}

// Acquire obtains an Access token of the given mode for table. It
// fails if the nesting rules would be violated.
func (a *Acquirer) Acquire(table string, mode AccessMode) (*Access, error) {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()

	held, has := a.state.holders[table]
	if has {
		if held == WriteAccess {
			// Any access (read or write) nested under an existing
			// write access on the same table is forbidden.
			if mode == WriteAccess {
				return nil, ErrNestedWrite
			}
			return nil, ErrNestedReadUnderWrite
		}
		// Nested reads under an existing read stack are fine; track
		// depth so Release only clears the holder once the last
		// reader lets go.
		if mode == ReadAccess {
			a.state.nested[table]++
			return &Access{state: a.state, table: table, mode: mode}, nil
		}
		// A write requested while reads are outstanding is treated the
		// same as write-under-write since it is just as unsafe to allow.
		return nil, ErrNestedWrite
	}

	a.state.holders[table] = mode
	if mode == ReadAccess {
		a.state.nested[table] = 1
	}
	return &Access{state: a.state, table: table, mode: mode}, nil
}

// Release gives the token back. Calling it more than once panics: that
// indicates a logic error in the caller, not a recoverable condition.
func (a *Access) Release() {
	if a.state == nil {
		panic("store: Access released twice")
	}
	st := a.state
	a.state = nil

	st.mu.Lock()
	defer st.mu.Unlock()

	if a.mode == ReadAccess {
		st.nested[a.table]--
		if st.nested[a.table] <= 0 {
			delete(st.nested, a.table)
			delete(st.holders, a.table)
		}
	} else {
		delete(st.holders, a.table)
	}
}

// Mode reports whether this token is a read or write access.
func (a *Access) Mode() AccessMode { return a.mode }

// Table reports the table name this token was issued for.
func (a *Access) Table() string { return a.table }
