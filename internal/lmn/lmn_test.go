package lmn

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/mbus"
	"github.com/smgw-cluster/segw-core/pkg/obis"
)

var (
	testHeader = mbus.ShortHeader{
		Control:      0x44,
		Manufacturer: [2]byte{0xa8, 0x15},
		Address:      [4]byte{0x74, 0x31, 0x45, 0x04},
		Version:      0x01,
		Medium:       0x02,
		CI:           mbus.CIShortHeader,
	}
	testKey = [16]byte{
		0x23, 0xa8, 0x4b, 0x07, 0xeb, 0xcb, 0xaf, 0x94,
		0x88, 0x95, 0xdf, 0x0e, 0x91, 0x33, 0x52, 0x0d,
	}
)

// buildEncryptedTelegram builds a complete length-prefixed telegram
// whose mode-5 payload decrypts to one 32-bit energy record.
func buildEncryptedTelegram(t *testing.T, accessNo byte, key [16]byte) []byte {
	t.Helper()

	// DIF 0x04 = 32-bit integer; VIF 0x02 = energy Wh, scale 10^-1.
	record := []byte{0x04, 0x02, 0xbf, 0x5b, 0xcb, 0x09}
	plain := append([]byte{0x2F, 0x2F}, record...)
	for len(plain)%16 != 0 {
		plain = append(plain, 0x2F)
	}
	ct, err := mbus.Encrypt(testHeader, accessNo, key, plain)
	if err != nil {
		t.Fatal(err)
	}

	body := []byte{
		testHeader.Control,
		testHeader.Manufacturer[0], testHeader.Manufacturer[1],
		testHeader.Address[0], testHeader.Address[1], testHeader.Address[2], testHeader.Address[3],
		testHeader.Version, testHeader.Medium, testHeader.CI,
		accessNo, 0x00, 0x00, 0x05, // access_no, status, config (mode 5)
	}
	body = append(body, ct...)
	return append([]byte{byte(len(body))}, body...)
}

func TestTelegramDecryptsAndPublishes(t *testing.T) {
	meters := store.NewTable("_WMBusMeter")
	in, err := New(meters, map[string]string{
		"a815-74314504-01-02": hex.EncodeToString(testKey[:]),
	}, "test")
	if err != nil {
		t.Fatal(err)
	}

	records, err := in.Telegram(buildEncryptedTelegram(t, 0x7f, testKey))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Name != obis.ActiveEnergyImportTotal || r.Value != 164322239 || r.Scaler != -1 || r.Unit != 30 {
		t.Fatalf("record mismatch: %+v", r)
	}

	rec := meters.Lookup("a815-74314504-01-02")
	if rec == nil {
		t.Fatal("expected meter row to be published")
	}
	m := rec.Data.(Meter)
	if m.Telegrams != 1 || len(m.Records) != 1 {
		t.Fatalf("meter row mismatch: %+v", m)
	}

	// A second telegram bumps the counter via modify, not insert.
	if _, err := in.Telegram(buildEncryptedTelegram(t, 0x80, testKey)); err != nil {
		t.Fatal(err)
	}
	m = meters.Lookup("a815-74314504-01-02").Data.(Meter)
	if m.Telegrams != 2 {
		t.Fatalf("expected telegram counter 2, got %d", m.Telegrams)
	}
}

func TestTelegramWrongKeyYieldsNoRecords(t *testing.T) {
	meters := store.NewTable("_WMBusMeter")
	wrong := [16]byte{1, 2, 3}
	in, err := New(meters, map[string]string{
		"a815-74314504-01-02": hex.EncodeToString(wrong[:]),
	}, "test")
	if err != nil {
		t.Fatal(err)
	}

	records, err := in.Telegram(buildEncryptedTelegram(t, 0x7f, testKey))
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Fatalf("expected no records under the wrong key, got %+v", records)
	}
	if meters.Size() != 0 {
		t.Fatal("expected no meter row for a dropped telegram")
	}
}

func TestTelegramUnknownMeterIsAnError(t *testing.T) {
	in, err := New(store.NewTable("_WMBusMeter"), nil, "test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := in.Telegram(buildEncryptedTelegram(t, 0x7f, testKey)); err == nil {
		t.Fatal("expected an error for a meter with no configured key")
	}
}

func TestRunDrainsStream(t *testing.T) {
	meters := store.NewTable("_WMBusMeter")
	in, err := New(meters, map[string]string{
		"a815-74314504-01-02": hex.EncodeToString(testKey[:]),
	}, "test")
	if err != nil {
		t.Fatal(err)
	}

	var stream []byte
	stream = append(stream, buildEncryptedTelegram(t, 0x7f, testKey)...)
	stream = append(stream, buildEncryptedTelegram(t, 0x80, testKey)...)

	if err := in.Run(context.Background(), bytes.NewReader(stream)); err != nil {
		t.Fatal(err)
	}
	m := meters.Lookup("a815-74314504-01-02").Data.(Meter)
	if m.Telegrams != 2 {
		t.Fatalf("expected 2 telegrams processed, got %d", m.Telegrams)
	}
}

func TestNewRejectsMalformedKey(t *testing.T) {
	if _, err := New(store.NewTable("m"), map[string]string{"x": "not-hex"}, "test"); err == nil {
		t.Fatal("expected an error for a malformed key")
	}
}
