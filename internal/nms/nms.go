// Package nms implements the gateway's Network Management System
// protocol: a line-buffered JSON request/response exchange used by
// the back-office to read and rewrite a node's serial-port and NMS
// configuration, push firmware, and query its update status.
//
// The command set and its many historical aliases are grounded in the
// original node's nms/reader.cpp dispatcher; this package collapses the
// aliases into one canonical command before dispatch.
package nms

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/log"
)

// Credentials carries the "credentials" object every NMS request must
// supply.
type Credentials struct {
	User string `json:"user"`
	Pwd  string `json:"pwd"`
}

// Request is one line of the NMS protocol: a JSON object terminated by
// '\n'. SerialPort and NMSParam carry command-specific payloads that
// only "merge" and "query" populate.
type Request struct {
	Command     string          `json:"command"`
	Version     string          `json:"version"`
	Source      string          `json:"source"`
	Credentials Credentials    `json:"credentials"`
	SerialPort  map[string]any `json:"serial-port,omitempty"`
	NMSParam    map[string]any `json:"nms,omitempty"`
	Script      string         `json:"script,omitempty"`
}

// Response mirrors Request's envelope (command, version, source) plus
// an "ec" result code, "ok" on success or a short error string.
type Response struct {
	Command      string         `json:"command"`
	Version      string         `json:"version"`
	Source       string         `json:"source"`
	EC           string         `json:"ec"`
	SerialPort   map[string]any `json:"serial-port,omitempty"`
	NMSParam     map[string]any `json:"nms,omitempty"`
	Status       string         `json:"status,omitempty"`
	FWVersion    string         `json:"fwversion,omitempty"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	CMInfo       map[string]any `json:"cminfos,omitempty"`
}

const protocolVersion = "1.0"

// canonical command names.
const (
	CmdMerge        = "merge"
	CmdQuery        = "query"
	CmdUpdate       = "update"
	CmdUpdateStatus = "update-status"
	CmdReboot       = "reboot"
	CmdFWVersion    = "fwversion"
	CmdCMInfos      = "cminfos"
)

// aliases maps historical command spellings to their canonical form.
var aliases = map[string]string{
	"merge":           CmdMerge,
	"serialset":       CmdMerge,
	"serial-set":      CmdMerge,
	"setserial":       CmdMerge,
	"set-serial":      CmdMerge,
	"query":           CmdQuery,
	"serialget":       CmdQuery,
	"serial-get":      CmdQuery,
	"get serial":      CmdQuery,
	"get-serial":      CmdQuery,
	"update":          CmdUpdate,
	"fw-update":       CmdUpdate,
	"fwupdate":        CmdUpdate,
	"update-status":   CmdUpdateStatus,
	"get-update":      CmdUpdateStatus,
	"fw-status":       CmdUpdateStatus,
	"fwstatus":        CmdUpdateStatus,
	"get-update-status": CmdUpdateStatus,
	"reboot":          CmdReboot,
	"restart":         CmdReboot,
	"fwversion":       CmdFWVersion,
	"version":         CmdFWVersion,
	"fw-version":      CmdFWVersion,
	"cminfos":         CmdCMInfos,
	"cminfo":          CmdCMInfos,
	"cm-infos":        CmdCMInfos,
	"infos-cm":        CmdCMInfos,
}

func canonicalize(cmd string) (string, bool) {
	c, ok := aliases[cmd]
	return c, ok
}

// Authenticator checks NMS credentials. HashAuthenticator below is the
// bcrypt-backed implementation the server wires by default.
type Authenticator interface {
	Authenticate(user, pwd string) bool
}

// HashAuthenticator authenticates against a single operator account
// whose password is stored as a bcrypt hash; the NMS config carries
// account credentials the same way the SML listener does.
type HashAuthenticator struct {
	User string
	Hash []byte
}

// NewHashAuthenticator bcrypt-hashes pwd at cost bcrypt.DefaultCost and
// returns an Authenticator for the given user.
func NewHashAuthenticator(user, pwd string) (*HashAuthenticator, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &HashAuthenticator{User: user, Hash: h}, nil
}

func (a *HashAuthenticator) Authenticate(user, pwd string) bool {
	if a == nil || user != a.User {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.Hash, []byte(pwd)) == nil
}

// Rebooter performs the side effect of the "reboot" command. With no
// Rebooter set the command reports "reboot not supported"; cmd/iptmaster
// sets none, and tests supply a stub.
type Rebooter interface {
	Reboot() error
}

// Updater performs the side effect of the "update" command: persisting
// a firmware-update shell script for the supervisor to pick up.
type Updater interface {
	WriteScript(script string) error
	Status() (string, error)
}

// Handler implements the NMS command set against a node's persistent
// config store.
type Handler struct {
	Config       *store.Config
	Auth         Authenticator
	Rebooter     Rebooter
	Updater      Updater
	CMInfo       func() (map[string]any, error)
	FWVersion    string
	Manufacturer string

	log log.Component
}

// NewHandler returns a ready-to-use Handler. cfg, auth must not be nil;
// rebooter, updater, cmInfo may be nil, in which case their commands
// report "not supported".
func NewHandler(cfg *store.Config, auth Authenticator, fwVersion, manufacturer string) *Handler {
	return &Handler{
		Config:       cfg,
		Auth:         auth,
		FWVersion:    fwVersion,
		Manufacturer: manufacturer,
		log:          log.Named("nms"),
	}
}

// Handle authenticates and dispatches req, returning the response the
// server writes back verbatim.
func (h *Handler) Handle(req Request) Response {
	resp := Response{Command: req.Command, Version: protocolVersion, Source: req.Source}

	if req.Credentials.User == "" && req.Credentials.Pwd == "" {
		resp.EC = "missing credentials"
		return resp
	}
	if h.Auth == nil || !h.Auth.Authenticate(req.Credentials.User, req.Credentials.Pwd) {
		resp.EC = "invalid credentials"
		return resp
	}

	cmd, ok := canonicalize(req.Command)
	if !ok {
		resp.EC = "unknown command"
		return resp
	}
	resp.Command = cmd

	switch cmd {
	case CmdMerge:
		h.cmdMerge(req, &resp)
	case CmdQuery:
		h.cmdQuery(req, &resp)
	case CmdUpdate:
		h.cmdUpdate(req, &resp)
	case CmdUpdateStatus:
		h.cmdUpdateStatus(&resp)
	case CmdReboot:
		h.cmdReboot(&resp)
	case CmdFWVersion:
		h.cmdFWVersion(&resp)
	case CmdCMInfos:
		h.cmdCMInfos(&resp)
	default:
		resp.EC = "unknown command"
	}
	return resp
}

const (
	pathSerialPortPrefix = "nms/serial-port/"
	pathNMSPrefix        = "nms/param/"
)

// cmdMerge mutates the serial-port and nms config sections: every key
// present in the request overwrites the stored value, absent keys are
// left untouched.
func (h *Handler) cmdMerge(req Request, resp *Response) {
	for k, v := range req.SerialPort {
		if s, ok := v.(string); ok {
			if err := h.Config.SetString(pathSerialPortPrefix+k, s); err != nil {
				h.log.Errorf("merge serial-port.%s: %v", k, err)
				resp.EC = "store error"
				return
			}
		}
	}
	for k, v := range req.NMSParam {
		if s, ok := v.(string); ok {
			if err := h.Config.SetString(pathNMSPrefix+k, s); err != nil {
				h.log.Errorf("merge nms.%s: %v", k, err)
				resp.EC = "store error"
				return
			}
		}
	}
	resp.EC = "ok"
	h.cmdQuery(req, resp)
}

// cmdQuery reads back the current serial-port and nms sections.
func (h *Handler) cmdQuery(req Request, resp *Response) {
	resp.SerialPort = h.readSection(pathSerialPortPrefix)
	resp.NMSParam = h.readSection(pathNMSPrefix)
	if resp.EC == "" {
		resp.EC = "ok"
	}
}

func (h *Handler) readSection(prefix string) map[string]any {
	out := make(map[string]any)
	for _, p := range h.Config.Paths() {
		if len(p) <= len(prefix) || p[:len(prefix)] != prefix {
			continue
		}
		out[p[len(prefix):]] = h.Config.GetString(p, "")
	}
	return out
}

func (h *Handler) cmdUpdate(req Request, resp *Response) {
	if h.Updater == nil {
		resp.EC = "update not supported"
		return
	}
	if err := h.Updater.WriteScript(req.Script); err != nil {
		h.log.Errorf("update: %v", err)
		resp.EC = "update failed"
		return
	}
	resp.EC = "ok"
}

func (h *Handler) cmdUpdateStatus(resp *Response) {
	if h.Updater == nil {
		resp.EC = "update not supported"
		return
	}
	status, err := h.Updater.Status()
	if err != nil {
		h.log.Errorf("update-status: %v", err)
		resp.EC = "update status unavailable"
		return
	}
	resp.Status = status
	resp.EC = "ok"
}

func (h *Handler) cmdReboot(resp *Response) {
	if h.Rebooter == nil {
		resp.EC = "reboot not supported"
		return
	}
	if err := h.Rebooter.Reboot(); err != nil {
		h.log.Errorf("reboot: %v", err)
		resp.EC = "reboot failed"
		return
	}
	resp.EC = "ok"
}

func (h *Handler) cmdFWVersion(resp *Response) {
	resp.FWVersion = h.FWVersion
	resp.Manufacturer = h.Manufacturer
	resp.EC = "ok"
}

func (h *Handler) cmdCMInfos(resp *Response) {
	if h.CMInfo == nil {
		resp.EC = "cminfos not supported"
		return
	}
	info, err := h.CMInfo()
	if err != nil {
		h.log.Errorf("cminfos: %v", err)
		resp.EC = "cminfos unavailable"
		return
	}
	resp.CMInfo = info
	resp.EC = "ok"
}
