package nms

import (
	"path/filepath"
	"testing"

	"github.com/smgw-cluster/segw-core/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nms.sqlite")
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg, err := store.NewConfig(db)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}

	auth, err := NewHashAuthenticator("operator", "secret")
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(cfg, auth, "1.2.3", "acme")
}

func validCreds() Credentials { return Credentials{User: "operator", Pwd: "secret"} }

func TestHandleMissingCredentials(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Command: "query"})
	if resp.EC != "missing credentials" {
		t.Fatalf("got %q, want missing credentials", resp.EC)
	}
}

func TestHandleInvalidCredentials(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Command: "query", Credentials: Credentials{User: "operator", Pwd: "wrong"}})
	if resp.EC != "invalid credentials" {
		t.Fatalf("got %q, want invalid credentials", resp.EC)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Command: "frobnicate", Credentials: validCreds()})
	if resp.EC != "unknown command" {
		t.Fatalf("got %q, want unknown command", resp.EC)
	}
}

func TestMergeThenQueryRoundTrips(t *testing.T) {
	h := newTestHandler(t)

	merge := h.Handle(Request{
		Command:     "set-serial",
		Credentials: validCreds(),
		SerialPort:  map[string]any{"port": "/dev/ttyS0", "speed": "9600"},
	})
	if merge.EC != "ok" {
		t.Fatalf("merge ec = %q, want ok", merge.EC)
	}
	if merge.Command != CmdMerge {
		t.Fatalf("merge aliased to %q, want %q", merge.Command, CmdMerge)
	}
	if merge.SerialPort["port"] != "/dev/ttyS0" {
		t.Fatalf("merge response missing echoed serial-port, got %+v", merge.SerialPort)
	}

	query := h.Handle(Request{Command: "get-serial", Credentials: validCreds()})
	if query.EC != "ok" {
		t.Fatalf("query ec = %q, want ok", query.EC)
	}
	if query.SerialPort["port"] != "/dev/ttyS0" || query.SerialPort["speed"] != "9600" {
		t.Fatalf("query did not see merged values: %+v", query.SerialPort)
	}
}

func TestFWVersionReportsConfiguredValues(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Command: "fw-version", Credentials: validCreds()})
	if resp.EC != "ok" || resp.FWVersion != "1.2.3" || resp.Manufacturer != "acme" {
		t.Fatalf("got %+v", resp)
	}
}

func TestRebootWithoutRebooterReportsUnsupported(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Command: "restart", Credentials: validCreds()})
	if resp.EC != "reboot not supported" {
		t.Fatalf("got %q, want reboot not supported", resp.EC)
	}
}

type stubRebooter struct{ called bool }

func (r *stubRebooter) Reboot() error { r.called = true; return nil }

func TestRebootInvokesRebooter(t *testing.T) {
	h := newTestHandler(t)
	reb := &stubRebooter{}
	h.Rebooter = reb

	resp := h.Handle(Request{Command: "reboot", Credentials: validCreds()})
	if resp.EC != "ok" || !reb.called {
		t.Fatalf("got %+v, reboot called=%v", resp, reb.called)
	}
}

type stubUpdater struct {
	script string
	status string
}

func (u *stubUpdater) WriteScript(script string) error { u.script = script; return nil }
func (u *stubUpdater) Status() (string, error)         { return u.status, nil }

func TestUpdateThenUpdateStatus(t *testing.T) {
	h := newTestHandler(t)
	up := &stubUpdater{status: "idle"}
	h.Updater = up

	resp := h.Handle(Request{Command: "fwupdate", Credentials: validCreds(), Script: "#!/bin/sh\nflash\n"})
	if resp.EC != "ok" || up.script != "#!/bin/sh\nflash\n" {
		t.Fatalf("got %+v, script=%q", resp, up.script)
	}

	status := h.Handle(Request{Command: "fwstatus", Credentials: validCreds()})
	if status.EC != "ok" || status.Status != "idle" {
		t.Fatalf("got %+v", status)
	}
}
