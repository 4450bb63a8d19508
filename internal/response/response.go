// Package response implements the SML response engine: it serves
// GetProcParameter.Req and GetProfileList.Req against the local config
// store and the operational log, and dispatches SetProcParameter.Req
// writes into the config store.
package response

import (
	"fmt"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// DeviceInfo describes one meter known to this gateway, for the
// ROOT_ACTIVE_DEVICES / ROOT_VISIBLE_DEVICES subtrees.
type DeviceInfo struct {
	ServerID []byte
	Active   bool
}

// DeviceLister supplies the known-meter list the Active/Visible device
// trees enumerate. In the full gateway this is backed by the wireless-LMN
// reader task's device table; it is injected here so the response engine
// stays independent of that task.
type DeviceLister interface {
	Devices() []DeviceInfo
}

// OpLogRecord is one stored operational-log entry. The storage node's
// actual persistence schema is an external collaborator; this is the
// contract an OpLogReader must satisfy.
type OpLogRecord struct {
	ActTime     uint32
	EventClass  obis.Code
	PeerAddress string
	SignalDBm   int8
	Cell        uint32
	AreaCode    uint16
	Provider    string
	ServerID    []byte
	PushTarget  string
	PushOps     uint8
	Details     string
}

// OpLogReader queries the operational log by time window.
type OpLogReader interface {
	Query(begin, end uint32) ([]OpLogRecord, error)
}

// MemoryUsage reports the mirror/tmp partition percentages served under
// ROOT_MEMORY_USAGE.
type MemoryUsage interface {
	MemoryUsage() (mirrorPct, tmpPct uint8)
}

// Engine builds SML responses against a config store, a device lister,
// and a memory-usage source; an op-log reader is passed to GetProfileList.
type Engine struct {
	Config  *store.Config
	Devices DeviceLister
	Memory  MemoryUsage
}

// GetProcParameter dispatches a GetProcParameter.Req by its root OBIS
// code. On success it returns a populated tree; an empty path or an
// unknown root returns the UNKNOWN_OBIS_CODE attention.
func (e *Engine) GetProcParameter(path obis.Path) (*sml.Tree, obis.Code) {
	if len(path) == 0 {
		return nil, obis.AttentionUnknownObisCode
	}
	switch path[0] {
	case obis.RootIptParam:
		return e.buildIptParam(), obis.AttentionOK
	case obis.RootDeviceIdent:
		return e.buildDeviceIdent(), obis.AttentionOK
	case obis.RootMemoryUsage:
		return e.buildMemoryUsage(), obis.AttentionOK
	case obis.RootActiveDevices:
		return e.buildDeviceList(obis.RootActiveDevices, obis.ActiveDevicesClass, true), obis.AttentionOK
	case obis.RootVisibleDevices:
		return e.buildDeviceList(obis.RootVisibleDevices, obis.VisibleDevicesClass, false), obis.AttentionOK
	default:
		return nil, obis.AttentionUnknownObisCode
	}
}

// buildIptParam reads every "/ipt/param/<idx>/<field>" path populated in
// the config store and emits one child subtree per configured IP-T
// server entry.
func (e *Engine) buildIptParam() *sml.Tree {
	var children []*sml.Tree
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("/ipt/param/%d/", i)
		host, ok := e.cfgString(prefix + "host")
		if !ok {
			break
		}
		service, _ := e.cfgString(prefix + "service")
		account, _ := e.cfgString(prefix + "account")
		scrambled := e.Config.GetBool(prefix+"scrambled", false)

		children = append(children, sml.Node(obis.Make(0x81, 0x49, byte(i), 0x00, 0x00, 0xFF),
			sml.Leaf(obis.Make(0x81, 0x49, byte(i), 0x00, 0x01, 0xFF), sml.OctetStr(host)),
			sml.Leaf(obis.Make(0x81, 0x49, byte(i), 0x00, 0x02, 0xFF), sml.OctetStr(service)),
			sml.Leaf(obis.Make(0x81, 0x49, byte(i), 0x00, 0x03, 0xFF), sml.OctetStr(account)),
			sml.Leaf(obis.Make(0x81, 0x49, byte(i), 0x00, 0x04, 0xFF), sml.Bool(scrambled)),
		))
	}
	return sml.Node(obis.RootIptParam, children...)
}

// cfgString is a small local helper distinguishing "absent" from "empty
// string present", which store.Config's typed getters collapse together.
func (e *Engine) cfgString(path string) (string, bool) {
	v, ok := e.Config.Get(path)
	if !ok {
		return "", false
	}
	return string(v.Bytes()), true
}

// buildDeviceIdent emits manufacturer, server id, model code, and
// firmware list.
func (e *Engine) buildDeviceIdent() *sml.Tree {
	manufacturer := e.Config.GetString("/hw/manufacturer", "")
	serverID := e.Config.GetBytes("/hw/server-id", nil)
	model := e.Config.GetString("/hw/model-code", "")
	firmware := e.Config.GetString("/hw/firmware", "")

	return sml.Node(obis.RootDeviceIdent,
		sml.Leaf(obis.DataManufacturer, sml.OctetStr(manufacturer)),
		sml.Leaf(obis.DataServerID, sml.OctetString(serverID)),
		sml.Leaf(obis.DataModelCode, sml.OctetStr(model)),
		sml.Leaf(obis.DataFirmware, sml.OctetStr(firmware)),
	)
}

// buildMemoryUsage emits mirror/tmp percentages.
func (e *Engine) buildMemoryUsage() *sml.Tree {
	var mirror, tmp uint8
	if e.Memory != nil {
		mirror, tmp = e.Memory.MemoryUsage()
	}
	return sml.Node(obis.RootMemoryUsage,
		sml.Leaf(obis.DataMemoryMirror, sml.U8(mirror)),
		sml.Leaf(obis.DataMemoryTmp, sml.U8(tmp)),
	)
}

// buildDeviceList enumerates the known-meter table into one subtree per
// device, indexed "81 81 class 06 q s"; s rolls over from 0xFE to
// q+=1, s=1.
func (e *Engine) buildDeviceList(root obis.Code, class byte, activeOnly bool) *sml.Tree {
	var children []*sml.Tree
	if e.Devices == nil {
		return sml.Node(root)
	}
	var q, s byte = 0, 0
	for _, d := range e.Devices.Devices() {
		if activeOnly && !d.Active {
			continue
		}
		q, s = obis.NextDeviceIndex(q, s)
		idx := obis.DeviceIndex(class, q, s)
		children = append(children, sml.Leaf(idx, sml.OctetString(d.ServerID)))
	}
	return sml.Node(root, children...)
}

// SetProcParameter dispatches a SetProcParameter.Req write into the
// config store, returning the attention code to report: OK on a known
// root, UNKNOWN_OBIS_CODE otherwise.
func (e *Engine) SetProcParameter(path obis.Path, value sml.Value) obis.Code {
	if len(path) == 0 {
		return obis.AttentionUnknownObisCode
	}
	switch path[0] {
	case obis.RootIptParam:
		if len(path) < 2 {
			return obis.AttentionUnknownObisCode
		}
		if err := e.Config.Set("/ipt/param/"+path[1:].String(), value); err != nil {
			return obis.AttentionUnknownObisCode
		}
		return obis.AttentionOK
	default:
		return obis.AttentionUnknownObisCode
	}
}

// GetProfileList serves a GetProfileList.Req against oplog for
// CLASS_OP_LOG; any other class is an UNKNOWN_OBIS_CODE attention.
// Every response carries exactly 11 period entries in a fixed order.
func (e *Engine) GetProfileList(oplog OpLogReader, serverID []byte, class obis.Code, begin, end uint32) ([]sml.GetProfileListRes, obis.Code, error) {
	if class != obis.ClassOpLog {
		return nil, obis.AttentionUnknownObisCode, nil
	}
	if oplog == nil {
		return nil, obis.AttentionUnknownObisCode, nil
	}
	records, err := oplog.Query(begin, end)
	if err != nil {
		return nil, obis.Code{}, fmt.Errorf("response: op-log query: %w", err)
	}

	out := make([]sml.GetProfileListRes, 0, len(records))
	for _, r := range records {
		out = append(out, sml.GetProfileListRes{
			ServerID: serverID,
			Class:    class,
			ActTime:  r.ActTime,
			Periods:  periodEntries(r),
		})
	}
	return out, obis.AttentionOK, nil
}

// periodEntries tags one op-log record's eleven properties as separate
// OBIS-addressed values for a GetProfileList.Res period: event class,
// peer address, signal
// strength, cell, area code, provider, current UTC, server ID, push target,
// push ops, details, in that order.
func periodEntries(r OpLogRecord) []sml.PeriodEntry {
	return []sml.PeriodEntry{
		{ObjName: obis.ClassEvent, Unit: 0xFF, Scaler: 0, Value: sml.OctetString(r.EventClass[:])},
		{ObjName: obis.OpLogPeerAddress, Unit: 0xFF, Scaler: 0, Value: sml.OctetStr(r.PeerAddress)},
		{ObjName: obis.OpLogFieldStrength, Unit: 0xFE, Scaler: 0, Value: sml.I8(r.SignalDBm)},
		{ObjName: obis.OpLogCell, Unit: 0xFF, Scaler: 0, Value: sml.U32(r.Cell)},
		{ObjName: obis.OpLogAreaCode, Unit: 0xFF, Scaler: 0, Value: sml.U16(r.AreaCode)},
		{ObjName: obis.OpLogProvider, Unit: 0xFF, Scaler: 0, Value: sml.OctetStr(r.Provider)},
		{ObjName: obis.CurrentUTC, Unit: 0x07, Scaler: 0, Value: sml.Time(r.ActTime)},
		{ObjName: obis.DataServerID, Unit: 0xFF, Scaler: 0, Value: sml.OctetString(r.ServerID)},
		{ObjName: obis.PushTarget, Unit: 0xFF, Scaler: 0, Value: sml.OctetStr(r.PushTarget)},
		{ObjName: obis.PushOperations, Unit: 0xFF, Scaler: 0, Value: sml.U8(r.PushOps)},
		{ObjName: obis.DataPushDetails, Unit: 0xFF, Scaler: 0, Value: sml.OctetStr(r.Details)},
	}
}
