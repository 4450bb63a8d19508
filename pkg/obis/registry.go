package obis

// Well-known OBIS singletons. Values for the metrological
// codes follow the standard OBIS assignment (IEC 62056-61); the
// manufacturer-specific (A=129) administrative codes follow the
// conventions used by the SML/IP-T protocol family this gateway speaks.
var (
	// Root parameter trees served by GetProcParameter.
	RootIptParam       = Make(0x81, 0x49, 0x00, 0x00, 0x10, 0xFF)
	RootDeviceIdent    = Make(0x81, 0x81, 0xC7, 0x82, 0x01, 0xFF)
	RootMemoryUsage    = Make(0x81, 0x00, 0x60, 0x05, 0x00, 0xFF)
	RootActiveDevices  = Make(0x81, 0x81, 0x11, 0x06, 0x00, 0xFF)
	RootVisibleDevices = Make(0x81, 0x81, 0x10, 0x06, 0x00, 0xFF)

	// CLASS_OP_LOG addresses the operational log via GetProfileList.
	ClassOpLog = Make(0x81, 0x81, 0xC7, 0x89, 0xE1, 0xFF)

	// Administrative leaves under ROOT_DEVICE_IDENT.
	DataManufacturer = Make(0x81, 0x81, 0xC7, 0x82, 0x03, 0xFF)
	DataServerID     = Make(0x81, 0x81, 0xC7, 0x82, 0x04, 0xFF)
	DataPublicKey    = Make(0x81, 0x81, 0xC7, 0x82, 0x05, 0xFF)
	DataFirmware     = Make(0x81, 0x81, 0xC7, 0x82, 0x06, 0xFF)

	// OP-LOG peer/event properties.
	OpLogPeerAddress   = Make(0x81, 0x81, 0xC7, 0x89, 0xE2, 0xFF)
	ClassEvent         = Make(0x81, 0x81, 0xC7, 0x89, 0xE3, 0xFF)
	OpLogFieldStrength = Make(0x81, 0x04, 0x2B, 0x07, 0x00, 0x00)
	OpLogCell          = Make(0x81, 0x04, 0x1A, 0x07, 0x00, 0x00)
	OpLogAreaCode      = Make(0x81, 0x04, 0x17, 0x07, 0x00, 0x00)
	OpLogProvider      = Make(0x81, 0x04, 0x0D, 0x06, 0x00, 0x00)
	CurrentUTC         = Make(0x01, 0x00, 0x00, 0x09, 0x0B, 0x00)
	PushTarget         = Make(0x81, 0x47, 0x17, 0x07, 0x00, 0xFF)
	PushOperations     = Make(0x81, 0x81, 0xC7, 0x8A, 0x01, 0xFF)
	DataPushDetails    = Make(0x81, 0x81, 0xC7, 0x81, 0x23, 0xFF)

	// Leaves under ROOT_MEMORY_USAGE: mirror and tmp partition
	// usage, each a percentage.
	DataMemoryMirror = Make(0x81, 0x00, 0x60, 0x05, 0x01, 0xFF)
	DataMemoryTmp    = Make(0x81, 0x00, 0x60, 0x05, 0x02, 0xFF)

	// Device model code, the fourth ROOT_DEVICE_IDENT leaf.
	DataModelCode = Make(0x81, 0x81, 0xC7, 0x82, 0x09, 0xFF)

	// Active energy total import — used verbatim in the wireless M-Bus
	// decrypt end-to-end scenario.
	ActiveEnergyImportTotal = Make(0x01, 0x00, 0x01, 0x08, 0x00, 0xFF)
)

// Device-index classes for the ROOT_ACTIVE_DEVICES / ROOT_VISIBLE_DEVICES
// subtrees: one subtree per known meter, addressed as
// "81 81 11/10 06 q s".
const (
	ActiveDevicesClass  byte = 0x11
	VisibleDevicesClass byte = 0x10
)

// DeviceIndex builds the "81 81 class 06 q s" address for the q-th/s-th
// entry of the active or visible device list.
func DeviceIndex(class, q, s byte) Code {
	return Make(0x81, 0x81, class, 0x06, q, s)
}

// NextDeviceIndex advances the (q, s) device index: s rolls
// from 0xFE to 1 with q incremented; s never reaches the 0xFF "count"
// sentinel.
func NextDeviceIndex(q, s byte) (nq, ns byte) {
	if s >= 0xFE {
		return q + 1, 1
	}
	return q, s + 1
}

// Attention codes. This registry includes the set the response engine
// and gateway proxy need.
var (
	AttentionOK                 = Make(0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	AttentionUnknownObisCode    = Make(0x81, 0x81, 0xC7, 0xC7, 0xFD, 0x00)
	AttentionUnknownSmlID       = Make(0x81, 0x81, 0xC7, 0xC7, 0xFD, 0x01)
	AttentionUnsupportedDatatyp = Make(0x81, 0x81, 0xC7, 0xC7, 0xFD, 0x02)
	AttentionBusy               = Make(0x81, 0x81, 0xC7, 0xC7, 0xFD, 0x0D)
)

var attentionNames = map[Code]string{
	AttentionOK:                 "OK",
	AttentionUnknownObisCode:    "UNKNOWN_OBIS_CODE",
	AttentionUnknownSmlID:       "UNKNOWN_SML_ID",
	AttentionUnsupportedDatatyp: "UNSUPPORTED_DATA_TYPE",
	AttentionBusy:               "BUSY",
}

var wellKnownNames = map[Code]string{
	RootIptParam:            "ROOT_IPT_PARAM",
	RootDeviceIdent:         "ROOT_DEVICE_IDENT",
	RootMemoryUsage:         "ROOT_MEMORY_USAGE",
	RootActiveDevices:       "ROOT_ACTIVE_DEVICES",
	RootVisibleDevices:      "ROOT_VISIBLE_DEVICES",
	ClassOpLog:              "CLASS_OP_LOG",
	DataManufacturer:        "DATA_MANUFACTURER",
	DataServerID:            "DATA_SERVER_ID",
	DataPublicKey:           "DATA_PUBLIC_KEY",
	DataFirmware:            "DATA_FIRMWARE",
	DataModelCode:           "DATA_MODEL_CODE",
	DataMemoryMirror:        "DATA_MEMORY_MIRROR",
	DataMemoryTmp:           "DATA_MEMORY_TMP",
	OpLogPeerAddress:        "OP_LOG_PEER_ADDRESS",
	ClassEvent:              "CLASS_EVENT",
	OpLogFieldStrength:      "CLASS_OP_LOG_FIELD_STRENGTH",
	OpLogCell:               "CLASS_OP_LOG_CELL",
	OpLogAreaCode:           "CLASS_OP_LOG_AREA_CODE",
	OpLogProvider:           "CLASS_OP_LOG_PROVIDER",
	CurrentUTC:              "CURRENT_UTC",
	PushTarget:              "PUSH_TARGET",
	PushOperations:          "PUSH_OPERATIONS",
	DataPushDetails:         "DATA_PUSH_DETAILS",
	ActiveEnergyImportTotal: "ACTIVE_ENERGY_IMPORT_TOTAL",
}

// Name returns the human-readable name of a well-known or attention code,
// or "" if the code is not registered.
func Name(c Code) string {
	if n, ok := wellKnownNames[c]; ok {
		return n
	}
	if n, ok := attentionNames[c]; ok {
		return n
	}
	return ""
}

// AttentionName returns the human name of an attention code specifically,
// used by the gateway proxy when forwarding attention responses.
func AttentionName(c Code) (string, bool) {
	n, ok := attentionNames[c]
	return n, ok
}
