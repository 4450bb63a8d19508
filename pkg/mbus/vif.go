package mbus

import "github.com/smgw-cluster/segw-core/pkg/obis"

// VIF is a parsed Value Information Field: the physical unit and decimal
// scaler a record's raw value must be multiplied by, plus the OBIS code
// this gateway reports the value under. Only the primary VIF table this
// gateway actually serves is implemented; unrecognised codes decode to a
// zero VIF (no OBIS code, unit or scaler) without an error.
type VIF struct {
	OBIS   obis.Code
	Unit   uint8 // DLMS/COSEM unit code
	Scaler int8  // value * 10^Scaler is the physical quantity
}

// DLMS unit codes used by the primary table below.
const (
	UnitWh      uint8 = 30
	UnitM3      uint8 = 14
	UnitWatt    uint8 = 27
	UnitM3PerH  uint8 = 15
	UnitCelsius uint8 = 23
)

// parseVIF walks the VIF(E...) chain starting at buf[0], returning the
// decoded unit/scaler/OBIS mapping and bytes consumed. Extension (FD/FB
// prefixed) VIFs are consumed but not individually decoded.
func parseVIF(buf []byte) (VIF, int, error) {
	if len(buf) < 1 {
		return VIF{}, 0, errShort("VIF")
	}
	primary := buf[0] & 0x7F
	pos := 1
	for buf[pos-1]&0x80 != 0 {
		if pos >= len(buf) {
			return VIF{}, 0, errShort("VIFE")
		}
		pos++
	}

	v, ok := lookupEnergyWh(primary)
	if ok {
		return v, pos, nil
	}
	v, ok = lookupVolume(primary)
	if ok {
		return v, pos, nil
	}
	v, ok = lookupPower(primary)
	if ok {
		return v, pos, nil
	}
	return VIF{}, pos, nil
}

// lookupEnergyWh covers primary VIF 0x00-0x07: energy in Wh, 10^(n-3).
func lookupEnergyWh(primary byte) (VIF, bool) {
	if primary > 0x07 {
		return VIF{}, false
	}
	return VIF{OBIS: obis.ActiveEnergyImportTotal, Unit: UnitWh, Scaler: int8(primary) - 3}, true
}

// lookupVolume covers primary VIF 0x10-0x17: volume in m3, 10^(n-6).
func lookupVolume(primary byte) (VIF, bool) {
	if primary < 0x10 || primary > 0x17 {
		return VIF{}, false
	}
	return VIF{Unit: UnitM3, Scaler: int8(primary&0x07) - 6}, true
}

// lookupPower covers primary VIF 0x2B-0x2F: power in W, 10^(n-3).
func lookupPower(primary byte) (VIF, bool) {
	if primary < 0x2B || primary > 0x2F {
		return VIF{}, false
	}
	return VIF{Unit: UnitWatt, Scaler: int8(primary&0x07) - 3}, true
}
