// Package ipt implements the IP-T tunnelling transport codec:
// frame encode/decode, the command and response-code enumerations, the
// login handshakes, push-data transfer, and per-session sequence number
// assignment.
package ipt

// Command is the 16-bit command field of an IP-T frame, little-endian on
// the wire. The three families — control, transport, application —
// each carry request/response pairs.
type Command uint16

const (
	CtrlReqLoginPublic    Command = 0x1000
	CtrlResLoginPublic    Command = 0x1001
	CtrlReqLoginScrambled Command = 0x1002
	CtrlResLoginScrambled Command = 0x1003
	CtrlReqLogout         Command = 0x1004
	CtrlResLogout         Command = 0x1005

	CtrlReqRegisterTarget   Command = 0x1100
	CtrlResRegisterTarget   Command = 0x1101
	CtrlReqDeregisterTarget Command = 0x1102
	CtrlResDeregisterTarget Command = 0x1103

	TPReqOpenPushChannel  Command = 0x9000
	TPResOpenPushChannel  Command = 0x9001
	TPReqClosePushChannel Command = 0x9002
	TPResClosePushChannel Command = 0x9003
	TPReqPushDataTransfer Command = 0x9004
	TPResPushDataTransfer Command = 0x9005
	TPReqOpenConnection   Command = 0x9006
	TPResOpenConnection   Command = 0x9007
	TPReqCloseConnection  Command = 0x9008
	TPResCloseConnection  Command = 0x9009

	AppReqSoftwareVersion    Command = 0x2000
	AppResSoftwareVersion    Command = 0x2001
	AppReqDeviceIdentifier   Command = 0x2002
	AppResDeviceIdentifier   Command = 0x2003
	AppReqIPStatistics       Command = 0x2004
	AppResIPStatistics       Command = 0x2005
	AppReqNetworkStatus      Command = 0x2006
	AppResNetworkStatus      Command = 0x2007
	AppReqPushTargetNamelist Command = 0x2008
	AppResPushTargetNamelist Command = 0x2009

	// TransparentData carries whatever application protocol rides over
	// an OPEN_CONNECTION pipe: once LINKED, frames are no longer
	// IP-T commands, so this command code is never parsed, only used as
	// the wire placeholder for outbound transparent writes.
	TransparentData Command = 0x0000
)

var commandNames = map[Command]string{
	CtrlReqLoginPublic:       "CTRL_REQ_LOGIN_PUBLIC",
	CtrlResLoginPublic:       "CTRL_RES_LOGIN_PUBLIC",
	CtrlReqLoginScrambled:    "CTRL_REQ_LOGIN_SCRAMBLED",
	CtrlResLoginScrambled:    "CTRL_RES_LOGIN_SCRAMBLED",
	CtrlReqLogout:            "CTRL_REQ_LOGOUT",
	CtrlResLogout:            "CTRL_RES_LOGOUT",
	CtrlReqRegisterTarget:    "CTRL_REQ_REGISTER_TARGET",
	CtrlResRegisterTarget:    "CTRL_RES_REGISTER_TARGET",
	CtrlReqDeregisterTarget:  "CTRL_REQ_DEREGISTER_TARGET",
	CtrlResDeregisterTarget:  "CTRL_RES_DEREGISTER_TARGET",
	TPReqOpenPushChannel:     "TP_REQ_OPEN_PUSH_CHANNEL",
	TPResOpenPushChannel:     "TP_RES_OPEN_PUSH_CHANNEL",
	TPReqClosePushChannel:    "TP_REQ_CLOSE_PUSH_CHANNEL",
	TPResClosePushChannel:    "TP_RES_CLOSE_PUSH_CHANNEL",
	TPReqPushDataTransfer:    "TP_REQ_PUSHDATA_TRANSFER",
	TPResPushDataTransfer:    "TP_RES_PUSHDATA_TRANSFER",
	TPReqOpenConnection:      "TP_REQ_OPEN_CONNECTION",
	TPResOpenConnection:      "TP_RES_OPEN_CONNECTION",
	TPReqCloseConnection:     "TP_REQ_CLOSE_CONNECTION",
	TPResCloseConnection:     "TP_RES_CLOSE_CONNECTION",
	AppReqSoftwareVersion:    "APP_REQ_SOFTWARE_VERSION",
	AppResSoftwareVersion:    "APP_RES_SOFTWARE_VERSION",
	AppReqDeviceIdentifier:   "APP_REQ_DEVICE_IDENTIFIER",
	AppResDeviceIdentifier:   "APP_RES_DEVICE_IDENTIFIER",
	AppReqIPStatistics:       "APP_REQ_IP_STATISTICS",
	AppResIPStatistics:       "APP_RES_IP_STATISTICS",
	AppReqNetworkStatus:      "APP_REQ_NETWORK_STATUS",
	AppResNetworkStatus:      "APP_RES_NETWORK_STATUS",
	AppReqPushTargetNamelist: "APP_REQ_PUSH_TARGET_NAMELIST",
	AppResPushTargetNamelist: "APP_RES_PUSH_TARGET_NAMELIST",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "UNKNOWN_COMMAND"
}

// IsResponse reports whether a command is one of the *_RES_* variants —
// every response command code is odd in this numbering.
func (c Command) IsResponse() bool { return uint16(c)&1 == 1 }

// ResponseCode is a per-command response enumeration; each command
// family defines its own success predicate.
type ResponseCode uint8

// CTRL_RES_LOGIN_PUBLIC / CTRL_RES_LOGIN_SCRAMBLED response codes.
const (
	LoginSuccess        ResponseCode = 0x00
	LoginUnknownAccount ResponseCode = 0x01
	LoginAccountLocked  ResponseCode = 0x02
	LoginNewAddress     ResponseCode = 0x03
	LoginMalfunction    ResponseCode = 0x04
)

// IsLoginSuccess implements the login special case: both
// SUCCESS and ACCOUNT_LOCKED are structurally successful — the login
// completes and the session moves on, but further device actions stall
// while the account remains locked.
func IsLoginSuccess(code ResponseCode) bool {
	return code == LoginSuccess || code == LoginAccountLocked
}

// IsLoginRedirect reports the NEW_ADDRESS case.
func IsLoginRedirect(code ResponseCode) bool { return code == LoginNewAddress }

// IsLoginFatal reports the MALFUNCTION case, fatal for the session.
func IsLoginFatal(code ResponseCode) bool { return code == LoginMalfunction }

// CTRL_RES_REGISTER_TARGET response codes.
const (
	RegisterTargetOK       ResponseCode = 0x00
	RegisterTargetRejected ResponseCode = 0x01
)

func (c ResponseCode) IsRegisterTargetSuccess() bool { return c == RegisterTargetOK }

// TP_RES_OPEN_PUSH_CHANNEL response codes.
const (
	OpenPushChannelSuccess     ResponseCode = 0x00
	OpenPushChannelUnreachable ResponseCode = 0x01
)

func (c ResponseCode) IsOpenPushChannelSuccess() bool { return c == OpenPushChannelSuccess }

// TP_RES_CLOSE_PUSH_CHANNEL response codes.
const (
	ClosePushChannelSuccess ResponseCode = 0x00
	ClosePushChannelBroken  ResponseCode = 0x01
)

func (c ResponseCode) IsClosePushChannelSuccess() bool { return c == ClosePushChannelSuccess }

// TP_RES_PUSHDATA_TRANSFER response codes; the value is a bitmask, with
// status carried alongside in a separate byte whose 0xC1 bits are
// preserved round-trip.
const (
	PushDataTransferSuccess     ResponseCode = 0x00
	PushDataTransferAck         ResponseCode = 0x01
	PushDataTransferUnreachable ResponseCode = 0x02
)

// TP_RES_OPEN_CONNECTION / TP_RES_CLOSE_CONNECTION response codes.
const (
	OpenConnectionDialupSuccess ResponseCode = 0x00
	OpenConnectionDialupFailed  ResponseCode = 0x01

	CloseConnectionClearingSucceeded ResponseCode = 0x00
	CloseConnectionClearingFailed    ResponseCode = 0x01
)

func (c ResponseCode) IsOpenConnectionSuccess() bool  { return c == OpenConnectionDialupSuccess }
func (c ResponseCode) IsCloseConnectionSuccess() bool { return c == CloseConnectionClearingSucceeded }

// PushDataStatusMask isolates the status bits that survive a round
// trip through the push-data transfer path untouched.
const PushDataStatusMask = 0xC1
