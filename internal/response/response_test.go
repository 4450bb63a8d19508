package response

import (
	"path/filepath"
	"testing"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

func openTestConfig(t *testing.T) *store.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.sqlite")
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg, err := store.NewConfig(db)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	return cfg
}

func TestGetProcParameterDeviceIdent(t *testing.T) {
	cfg := openTestConfig(t)
	if err := cfg.SetString("/hw/manufacturer", "SEGW"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetBytes("/hw/server-id", []byte("1SAG0000000001")); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetString("/hw/model-code", "G1"); err != nil {
		t.Fatal(err)
	}

	e := &Engine{Config: cfg}
	tree, code := e.GetProcParameter(obis.Path{obis.RootDeviceIdent})
	if code != obis.AttentionOK {
		t.Fatalf("got attention %v, want OK", code)
	}
	serverID := tree.Find(obis.DataServerID)
	if serverID == nil || string(serverID.Value.Bytes()) != "1SAG0000000001" {
		t.Fatalf("server id mismatch: %+v", serverID)
	}
	manufacturer := tree.Find(obis.DataManufacturer)
	if manufacturer == nil || string(manufacturer.Value.Bytes()) != "SEGW" {
		t.Fatalf("manufacturer mismatch: %+v", manufacturer)
	}
}

func TestGetProcParameterUnknownObisCode(t *testing.T) {
	e := &Engine{Config: openTestConfig(t)}

	if _, code := e.GetProcParameter(obis.Path{}); code != obis.AttentionUnknownObisCode {
		t.Fatalf("empty path: got %v, want UNKNOWN_OBIS_CODE", code)
	}
	if _, code := e.GetProcParameter(obis.Path{obis.Make(0, 0, 0, 0, 0, 0)}); code != obis.AttentionUnknownObisCode {
		t.Fatalf("unrecognised root: got %v, want UNKNOWN_OBIS_CODE", code)
	}
}

func TestSetProcParameterWritesIptParam(t *testing.T) {
	cfg := openTestConfig(t)
	e := &Engine{Config: cfg}

	field := obis.Make(0x81, 0x49, 0x00, 0x00, 0x01, 0xFF)
	path := obis.Path{obis.RootIptParam, field}
	if code := e.SetProcParameter(path, sml.OctetStr("master.example.net")); code != obis.AttentionOK {
		t.Fatalf("got attention %v, want OK", code)
	}

	got, ok := cfg.Get("/ipt/param/" + path[1:].String())
	if !ok {
		t.Fatal("expected write to be readable back")
	}
	if string(got.Bytes()) != "master.example.net" {
		t.Fatalf("got %q, want master.example.net", got.Bytes())
	}
}

func TestSetProcParameterUnknownObisCode(t *testing.T) {
	e := &Engine{Config: openTestConfig(t)}
	if code := e.SetProcParameter(obis.Path{}, sml.U8(1)); code != obis.AttentionUnknownObisCode {
		t.Fatalf("got %v, want UNKNOWN_OBIS_CODE", code)
	}
}

// fakeOpLog is a minimal OpLogReader stub so the profile list test does
// not depend on TableOpLog's storage adaptation.
type fakeOpLog struct {
	records []OpLogRecord
}

func (f *fakeOpLog) Query(begin, end uint32) ([]OpLogRecord, error) {
	var out []OpLogRecord
	for _, r := range f.records {
		if r.ActTime >= begin && r.ActTime <= end {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestGetProfileListReturnsElevenOrderedPeriodEntries(t *testing.T) {
	e := &Engine{Config: openTestConfig(t)}
	oplog := &fakeOpLog{records: []OpLogRecord{
		{
			ActTime:     1700000000,
			EventClass:  obis.ClassEvent,
			PeerAddress: "01762837373",
			SignalDBm:   -87,
			Cell:        7,
			AreaCode:    42,
			Provider:    "o2",
			ServerID:    []byte("1SAG0000000001"),
			PushTarget:  "push.example.net",
			PushOps:     1,
			Details:     "link up",
		},
	}}

	res, code, err := e.GetProfileList(oplog, []byte("1SAG0000000001"), obis.ClassOpLog, 1699999999, 1700000001)
	if err != nil {
		t.Fatal(err)
	}
	if code != obis.AttentionOK {
		t.Fatalf("got attention %v, want OK", code)
	}
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}

	periods := res[0].Periods
	if len(periods) != 11 {
		t.Fatalf("got %d period entries, want exactly 11", len(periods))
	}

	wantOrder := []obis.Code{
		obis.ClassEvent,
		obis.OpLogPeerAddress,
		obis.OpLogFieldStrength,
		obis.OpLogCell,
		obis.OpLogAreaCode,
		obis.OpLogProvider,
		obis.CurrentUTC,
		obis.DataServerID,
		obis.PushTarget,
		obis.PushOperations,
		obis.DataPushDetails,
	}
	for i, want := range wantOrder {
		if periods[i].ObjName != want {
			t.Fatalf("entry %d obj_name = %v, want %v", i, periods[i].ObjName, want)
		}
	}

	if periods[2].Value.Int() != -87 {
		t.Fatalf("signal strength mismatch: %+v", periods[2].Value)
	}
	if periods[3].Value.Uint() != 7 {
		t.Fatalf("cell mismatch: %+v", periods[3].Value)
	}
	if periods[4].Value.Uint() != 42 {
		t.Fatalf("area code mismatch: %+v", periods[4].Value)
	}
	if string(periods[5].Value.Bytes()) != "o2" {
		t.Fatalf("provider mismatch: %+v", periods[5].Value)
	}
	if string(periods[7].Value.Bytes()) != "1SAG0000000001" {
		t.Fatalf("server id mismatch: %+v", periods[7].Value)
	}
	if periods[9].Value.Uint() != 1 {
		t.Fatalf("push ops mismatch: %+v", periods[9].Value)
	}
}

func TestGetProfileListUnknownClassIsRejected(t *testing.T) {
	e := &Engine{Config: openTestConfig(t)}
	res, code, err := e.GetProfileList(&fakeOpLog{}, nil, obis.Make(1, 2, 3, 4, 5, 6), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if code != obis.AttentionUnknownObisCode || res != nil {
		t.Fatalf("got res=%v code=%v, want nil/UNKNOWN_OBIS_CODE", res, code)
	}
}
