package mbus

import (
	"encoding/binary"
	"math"

	"github.com/smgw-cluster/segw-core/pkg/obis"
)

// Record is one decoded data record from an M-Bus payload: an
// OBIS-addressable value with its scaler and unit.
type Record struct {
	Name   obis.Code
	Value  int64
	Scaler int8
	Unit   uint8
	Valid  bool
}

// ReadRecords walks a decrypted M-Bus application payload (with its 2F2F
// sync bytes already stripped by the caller) and yields one Record per
// DIF/VIF-prefixed value it recognises. Unrecognised data fields are
// skipped using the DIF's declared width so the walk can continue past
// them; variable-length and special fields end the walk.
func ReadRecords(payload []byte) []Record {
	var records []Record
	pos := 0
	for pos < len(payload) {
		dif, n, err := parseDIF(payload[pos:])
		if err != nil {
			return records
		}
		pos += n

		if dif.DataField == DataSpecial {
			break
		}

		vif, n, err := parseVIF(payload[pos:])
		if err != nil {
			return records
		}
		pos += n

		width := dataFieldWidth(dif.DataField)
		if width < 0 {
			break
		}
		if pos+width > len(payload) {
			break
		}
		raw := payload[pos : pos+width]
		pos += width

		value, ok := decodeValue(dif.DataField, raw)
		records = append(records, Record{
			Name:   vif.OBIS,
			Value:  value,
			Scaler: vif.Scaler,
			Unit:   vif.Unit,
			Valid:  ok,
		})
	}
	return records
}

// DateTimeF is the compound date/time encoding (type F): minute, hour,
// day, month, and a 7-bit year packed into four bytes.
type DateTimeF struct {
	Minute byte
	Hour   byte
	Day    byte
	Month  byte
	Year   uint16
}

// DecodeDateTimeF unpacks the 4-byte type F layout: minute in bits 0-5
// of byte 0, hour in bits 0-4 of byte 1, day in bits 0-4 of byte 2,
// month in bits 0-3 of byte 3, and the year split across the high bits
// of bytes 2 and 3.
func DecodeDateTimeF(raw [4]byte) DateTimeF {
	year := uint16(raw[2]>>5) | uint16(raw[3]>>4)<<3
	return DateTimeF{
		Minute: raw[0] & 0x3F,
		Hour:   raw[1] & 0x1F,
		Day:    raw[2] & 0x1F,
		Month:  raw[3] & 0x0F,
		Year:   2000 + year,
	}
}

func decodeValue(dataField byte, raw []byte) (int64, bool) {
	switch dataField {
	case DataNone:
		return 0, true
	case DataInt8:
		return int64(int8(raw[0])), true
	case DataInt16:
		return int64(int16(binary.LittleEndian.Uint16(raw))), true
	case DataInt24:
		v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16
		if v&0x800000 != 0 {
			v |= 0xFF000000
		}
		return int64(int32(v)), true
	case DataInt32:
		return int64(int32(binary.LittleEndian.Uint32(raw))), true
	case DataReal32:
		bits := binary.LittleEndian.Uint32(raw)
		return int64(math.Float32frombits(bits)), true
	case DataInt48:
		v := uint64(0)
		for i := 5; i >= 0; i-- {
			v = v<<8 | uint64(raw[i])
		}
		return int64(v), true
	case DataInt64:
		return int64(binary.LittleEndian.Uint64(raw)), true
	case DataBCD2, DataBCD4, DataBCD6, DataBCD8, DataBCD12:
		return int64(BCDToUint(raw)), true
	default:
		return 0, false
	}
}
