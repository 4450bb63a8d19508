package store

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// configRow mirrors one row of the cyng_config table: a `/`-separated
// path, the sml.Kind tag, and the value's wire encoding.
type configRow struct {
	Path  string `db:"path"`
	Type  int    `db:"type"`
	Value []byte `db:"value"`
}

// Config is the persistent key-value config layer: a
// `/`-separated path to sml.Value map, served from an in-memory
// overlay and written through to SQLite on every Set.
type Config struct {
	mu      sync.RWMutex
	overlay map[string]sml.Value
	db      *sqlx.DB
}

// NewConfig loads the full cyng_config table into memory and returns a
// ready-to-use Config bound to db for future writes.
func NewConfig(db *sqlx.DB) (*Config, error) {
	c := &Config{overlay: make(map[string]sml.Value), db: db}

	var rows []configRow
	if err := db.Select(&rows, `SELECT path, type, value FROM cyng_config`); err != nil {
		return nil, fmt.Errorf("store: load config: %w", err)
	}
	for _, row := range rows {
		v, _, err := sml.DecodeValue(row.Value)
		if err != nil {
			log.Warnf("store: skipping corrupt config row %q: %v", row.Path, err)
			continue
		}
		c.overlay[row.Path] = v
	}
	return c, nil
}

// Get returns the raw value stored at path and whether it was present.
func (c *Config) Get(path string) (sml.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.overlay[path]
	return v, ok
}

// Set writes value at path, transactionally updating the backing
// store before the in-memory overlay is changed. Reads are served
// from the overlay.
func (c *Config) Set(path string, value sml.Value) error {
	encoded := sml.EncodeValue(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: set_cfg begin: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO cyng_config(path, type, value) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET type = excluded.type, value = excluded.value`,
		path, int(value.Kind), encoded)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: set_cfg exec: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: set_cfg commit: %w", err)
	}

	c.overlay[path] = value
	return nil
}

// GetUint64 reads path as an unsigned integer, returning def if the
// path is absent or holds a value of the wrong kind.
func (c *Config) GetUint64(path string, def uint64) uint64 {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch v.Kind {
	case sml.KindU8, sml.KindU16, sml.KindU32, sml.KindU64, sml.KindTime:
		return v.Uint()
	default:
		return def
	}
}

// SetUint64 stores an unsigned 64-bit value at path.
func (c *Config) SetUint64(path string, v uint64) error {
	return c.Set(path, sml.U64(v))
}

// GetInt64 reads path as a signed integer, returning def otherwise.
func (c *Config) GetInt64(path string, def int64) int64 {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch v.Kind {
	case sml.KindI8, sml.KindI16, sml.KindI32, sml.KindI64:
		return v.Int()
	default:
		return def
	}
}

// SetInt64 stores a signed 64-bit value at path.
func (c *Config) SetInt64(path string, v int64) error {
	return c.Set(path, sml.I64(v))
}

// GetBool reads path as a bool, returning def otherwise.
func (c *Config) GetBool(path string, def bool) bool {
	v, ok := c.Get(path)
	if !ok || v.Kind != sml.KindBool {
		return def
	}
	return v.BoolVal()
}

// SetBool stores a bool value at path.
func (c *Config) SetBool(path string, v bool) error {
	return c.Set(path, sml.Bool(v))
}

// GetString reads path as an octet string, returning def otherwise.
func (c *Config) GetString(path string, def string) string {
	v, ok := c.Get(path)
	if !ok || v.Kind != sml.KindOctetString {
		return def
	}
	return string(v.Bytes())
}

// SetString stores a string value at path.
func (c *Config) SetString(path string, v string) error {
	return c.Set(path, sml.OctetStr(v))
}

// GetBytes reads path as raw octets, returning def otherwise.
func (c *Config) GetBytes(path string, def []byte) []byte {
	v, ok := c.Get(path)
	if !ok || v.Kind != sml.KindOctetString {
		return def
	}
	return v.Bytes()
}

// SetBytes stores a raw octet string at path.
func (c *Config) SetBytes(path string, v []byte) error {
	return c.Set(path, sml.OctetString(v))
}

// Paths returns every path currently held in the overlay, for admin
// dump commands and tests.
func (c *Config) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.overlay))
	for p := range c.overlay {
		paths = append(paths, p)
	}
	return paths
}
