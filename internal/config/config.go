// Package config loads the gateway's JSON configuration file: a
// top-level array of configuration blocks, one per node the same
// binary could run as, selected by numeric index the way the CLI's
// --config-index flag does.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/smgw-cluster/segw-core/pkg/log"
)

// DBConfig configures the SQLite-backed cache/config store.
type DBConfig struct {
	Type string `json:"type"`
	File string `json:"file"`
}

// SMLConfig configures the SML/IP-T listener side of the gateway (the
// "sml" config block).
type SMLConfig struct {
	Address      string `json:"address"`
	Service      string `json:"service"`
	Discover     string `json:"discover"`
	Account      string `json:"account"`
	Pwd          string `json:"pwd"`
	Enabled      bool   `json:"enabled"`
	AcceptAllIDs bool   `json:"accept-all-ids"`
	Superseding  bool   `json:"superseding"`
}

// IPTServerConfig is one entry of the "ipt" list: a single back-office
// IP-T master the gateway dials out to.
type IPTServerConfig struct {
	Host      string `json:"host"`
	Service   string `json:"service"`
	Account   string `json:"account"`
	Pwd       string `json:"pwd"`
	DefSK     string `json:"def-sk"`
	Scrambled bool   `json:"scrambled"`
	Monitor   int    `json:"monitor"`
}

// HardwareConfig models the "hardware" config block: device identity
// fields served by the response engine's ROOT_DEVICE_IDENT builder.
type HardwareConfig struct {
	Manufacturer string `json:"manufacturer"`
	ServerID     string `json:"server-id"`
	ModelCode    string `json:"model-code"`
}

// WirelessLMNConfig configures the wireless M-Bus radio reader.
type WirelessLMNConfig struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port"`
	Speed   uint32 `json:"speed"`
	Mode    uint8  `json:"mode"` // 0=T,1=S,2=A,3=P
}

// WiredLMNConfig and IF1107Config model the wired-bus config blocks.
// The serial port is a passthrough, not a driver; serial I/O stays with
// an external collaborator.
type WiredLMNConfig struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port"`
	Speed   uint32 `json:"speed"`
}

type IF1107Config struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port"`
}

// MBusConfig configures per-meter decrypt keys for the wireless M-Bus
// path.
type MBusConfig struct {
	Enabled bool              `json:"enabled"`
	Keys    map[string]string `json:"keys"` // server id ("a815-74314504-01-02") -> AES-128 key (32 hex chars)
}

type GPIOConfig struct {
	Enabled bool `json:"enabled"`
}

type VirtualMeterConfig struct {
	Enabled bool `json:"enabled"`
}

// NMSConfig configures the line-buffered JSON NMS listener.
type NMSConfig struct {
	Address string `json:"address"`
	Service string `json:"service"`
}

// NatsConfig is the cluster-bus transport section, reusing the
// pkg/nats schema verbatim.
type NatsConfig struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProgramConfig is one top-level configuration block: the full set
// of sections a segw-class node reads at startup.
type ProgramConfig struct {
	LogDir       string             `json:"log-dir"`
	LogLevel     string             `json:"log-level"`
	Tag          string             `json:"tag"`
	DB           DBConfig           `json:"DB"`
	SML          SMLConfig          `json:"sml"`
	NMS          NMSConfig          `json:"nms"`
	IPT          []IPTServerConfig  `json:"ipt"`
	IPTParam     json.RawMessage    `json:"ipt-param"`
	Hardware     HardwareConfig     `json:"hardware"`
	WirelessLMN  WirelessLMNConfig  `json:"wireless-LMN"`
	WiredLMN     WiredLMNConfig     `json:"wired-LMN"`
	IF1107       IF1107Config       `json:"if-1107"`
	MBus         MBusConfig         `json:"mbus"`
	GPIO         GPIOConfig         `json:"gpio"`
	VirtualMeter VirtualMeterConfig `json:"virtual-meter"`
	Nats         NatsConfig         `json:"nats"`
}

// Keys is the active configuration, selected by Init from the config
// file's block array.
var Keys ProgramConfig = Default()

// Default returns a ProgramConfig with the same bootstrap defaults the
// CLI's `create-config` writes out.
func Default() ProgramConfig {
	return ProgramConfig{
		LogDir:   "/var/log/segw",
		LogLevel: "info",
		Tag:      uuid.New().String(),
		DB:       DBConfig{Type: "sqlite", File: "/etc/segw/segw.db"},
		SML:      SMLConfig{Service: "7259", Enabled: true},
		NMS:      NMSConfig{Service: "7261"},
	}
}

// LoadBlocks reads the top-level JSON array of configuration blocks
// from path.
func LoadBlocks(path string) ([]ProgramConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var blocks []ProgramConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&blocks); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("config: %s contains no configuration blocks", path)
	}
	return blocks, nil
}

// Init loads path and installs the block at index as the active Keys.
// A missing file is not fatal here — the
// caller may be running `create-config` — but a malformed file is.
func Init(path string, index int) error {
	blocks, err := LoadBlocks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("config: %s does not exist, using defaults", path)
			return nil
		}
		return err
	}
	if index < 0 || index >= len(blocks) {
		return fmt.Errorf("config: index %d out of range (have %d blocks)", index, len(blocks))
	}
	Keys = blocks[index]
	return nil
}

// Save writes blocks back to path as the top-level JSON array, for
// `transfer-config` and `create-config`.
func Save(path string, blocks []ProgramConfig) error {
	raw, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
