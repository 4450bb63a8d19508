// Package lmn implements the wireless-LMN intake path: raw wireless
// M-Bus telegrams in, decoded meter records out. The radio hardware
// itself is an external collaborator — callers hand the Intake a stream
// (or single telegrams) read from whatever port the "wireless-LMN"
// config block names, and decoded readings land in the meter cache
// table the response engine's device trees enumerate.
package lmn

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/mbus"
)

// Meter is the cache-table payload kept per wireless meter: its server
// id, the records of the most recent telegram, and a telegram counter.
type Meter struct {
	ServerID  string
	Records   []mbus.Record
	Telegrams uint64
}

// Intake decrypts and decodes wireless M-Bus telegrams using the
// per-meter keys from the "mbus" config block and publishes the results
// into a cache table.
type Intake struct {
	keys   map[string][16]byte
	meters *store.Table
	tag    string
	log    log.Component
}

// New builds an Intake publishing to meters. keys maps a meter's server
// id ("a815-74314504-01-02") to its AES-128 key as 32 hex characters.
func New(meters *store.Table, keys map[string]string, tag string) (*Intake, error) {
	parsed := make(map[string][16]byte, len(keys))
	for id, hexKey := range keys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 16 {
			return nil, fmt.Errorf("lmn: key for meter %q: want 32 hex characters", id)
		}
		var k [16]byte
		copy(k[:], raw)
		parsed[strings.ToLower(id)] = k
	}
	return &Intake{keys: parsed, meters: meters, tag: tag, log: log.Named("lmn")}, nil
}

// Telegram processes one complete wireless M-Bus telegram: parse the
// link and transport headers, decrypt a mode-5 payload with the meter's
// key, walk the data records, and publish the meter row. A telegram
// that decrypts to something other than the 2F 2F sync bytes had the
// wrong key and yields no records.
func (in *Intake) Telegram(buf []byte) ([]mbus.Record, error) {
	hdr, tp, payload, err := mbus.ParseFrame(buf)
	if err != nil {
		return nil, err
	}
	serverID := hdr.ServerID()

	if tp.EncryptionMode() == 5 {
		key, ok := in.keys[serverID]
		if !ok {
			return nil, fmt.Errorf("lmn: no key configured for meter %s", serverID)
		}
		plain, valid, err := mbus.Decrypt(hdr, tp.AccessNo, key, payload)
		if err != nil {
			return nil, err
		}
		if !valid {
			in.log.Warnf("meter %s: decryption failed the 2F2F check, dropping telegram", serverID)
			return nil, nil
		}
		payload = mbus.StripPadding(plain)[2:]
	}

	records := mbus.ReadRecords(payload)
	in.publish(serverID, records)
	return records, nil
}

func (in *Intake) publish(serverID string, records []mbus.Record) {
	m := Meter{ServerID: serverID, Records: records, Telegrams: 1}
	if rec := in.meters.Lookup(serverID); rec != nil {
		if prev, ok := rec.Data.(Meter); ok {
			m.Telegrams = prev.Telegrams + 1
		}
		in.meters.Modify(serverID, m, in.tag)
		return
	}
	in.meters.Insert(serverID, m, 1, in.tag)
}

// Run reads length-prefixed telegrams from r until EOF or ctx is
// cancelled. A telegram that fails to parse or decrypt is logged and
// dropped; the stream itself stays up.
func (in *Intake) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		length, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frame := make([]byte, 1+int(length))
		frame[0] = length
		if _, err := io.ReadFull(br, frame[1:]); err != nil {
			return err
		}
		if _, err := in.Telegram(frame); err != nil {
			in.log.Warnf("telegram dropped: %v", err)
		}
	}
}
