// Command segwctl is the administrative CLI for a segw-class node:
// database/config bootstrap, config inspection, a dump of the selected
// IP-T profile from the program config, and an ad-hoc IP-T connectivity
// probe.
// It never starts the listeners cmd/iptmaster owns.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smgw-cluster/segw-core/internal/config"
	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/ipt"
	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/scramble"
)

func main() {
	var flagConfigFile string
	var flagConfigIndex int
	flag.StringVar(&flagConfigFile, "config", "/etc/segw/config.json", "Path to the `configuration` file")
	flag.IntVar(&flagConfigIndex, "config-index", 0, "Index of the configuration block to operate on")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "init-db":
		err = cmdInitDB(flagConfigFile, flagConfigIndex)
	case "create-config":
		err = cmdCreateConfig(flagConfigFile)
	case "transfer-config":
		err = cmdTransferConfig(flagConfigFile, flagConfigIndex)
	case "list-config":
		err = cmdListConfig(flagConfigFile, flagConfigIndex)
	case "clear-config":
		err = cmdClearConfig(flagConfigFile, flagConfigIndex)
	case "set-config":
		err = cmdSetConfig(flagConfigFile, flagConfigIndex, args[1:])
	case "dump-profile":
		err = cmdDumpProfile(flagConfigFile, flagConfigIndex, args[1:])
	case "try-connect":
		err = cmdTryConnect(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "segwctl: unknown command %q\n", args[0])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Errorf("segwctl: %s: %v", args[0], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `segwctl [--config path] [--config-index N] <command> [args]

Commands:
  init-db                              create/migrate the SQLite config store
  create-config                        write a default configuration block array
  transfer-config                      re-write the config file, normalizing block array shape
  list-config                          print every path in the config overlay
  clear-config                         erase the config overlay and its backing table
  set-config path/value/type           write one config path (types: bool,u8,u16,u32,u64,
                                        i8,i16,i32,i64,s,chrono:sec,chrono:min,ip:address)
  dump-profile N                       print the N-th configured IP-T server block
  try-connect user:pwd@host:port       dial an IP-T master and attempt a public login`)
}

func cmdInitDB(configFile string, index int) error {
	_ = config.Init(configFile, index)
	cfg := config.Keys
	db, err := store.OpenSQLite(cfg.DB.File)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DB.File, err)
	}
	defer db.Close()
	fmt.Printf("segwctl: initialized config store at %s\n", cfg.DB.File)
	return nil
}

func cmdCreateConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	return config.Save(path, []config.ProgramConfig{config.Default()})
}

// cmdTransferConfig loads the existing block array and writes it back
// unchanged except for re-normalizing field defaults, the CLI's
// migration path for config files written by an older binary.
func cmdTransferConfig(path string, index int) error {
	blocks, err := config.LoadBlocks(path)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(blocks) {
		return fmt.Errorf("config-index %d out of range (have %d blocks)", index, len(blocks))
	}
	return config.Save(path, blocks)
}

func cmdListConfig(path string, index int) error {
	cfg, err := openConfig(path, index)
	if err != nil {
		return err
	}
	defer cfg.db.Close()
	paths := cfg.store.Paths()
	for _, p := range paths {
		v, _ := cfg.store.Get(p)
		fmt.Printf("%s = %s\n", p, v.String())
	}
	fmt.Printf("%d path(s)\n", len(paths))
	return nil
}

func cmdClearConfig(path string, index int) error {
	cfg, err := openConfig(path, index)
	if err != nil {
		return err
	}
	defer cfg.db.Close()
	if _, err := cfg.db.Exec(`DELETE FROM cyng_config`); err != nil {
		return fmt.Errorf("clear cyng_config: %w", err)
	}
	fmt.Println("segwctl: config overlay cleared")
	return nil
}

// cmdSetConfig parses the "path/value/type" argument form and writes
// it through store.Config.Set, exercising the same typed Set* helpers
// the response engine's SetProcParameter dispatch uses.
func cmdSetConfig(configFile string, index int, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: set-config path/value/type")
	}
	parts := strings.Split(args[0], "/")
	if len(parts) < 2 {
		return fmt.Errorf("malformed set-config argument %q", args[0])
	}
	typ := parts[len(parts)-1]
	value := parts[len(parts)-2]
	path := "/" + strings.Join(parts[:len(parts)-2], "/")

	cfg, err := openConfig(configFile, index)
	if err != nil {
		return err
	}
	defer cfg.db.Close()

	if err := setTyped(cfg.store, path, value, typ); err != nil {
		return err
	}
	fmt.Printf("segwctl: set %s (%s) = %s\n", path, typ, value)
	return nil
}

func setTyped(cfg *store.Config, path, value, typ string) error {
	switch typ {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		return cfg.SetBool(path, b)
	case "u8":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, n)
	case "u16":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, n)
	case "u32":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, n)
	case "u64":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, n)
	case "i8":
		n, err := strconv.ParseInt(value, 10, 8)
		if err != nil {
			return err
		}
		return cfg.SetInt64(path, n)
	case "i16":
		n, err := strconv.ParseInt(value, 10, 16)
		if err != nil {
			return err
		}
		return cfg.SetInt64(path, n)
	case "i32":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return err
		}
		return cfg.SetInt64(path, n)
	case "i64":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		return cfg.SetInt64(path, n)
	case "s":
		return cfg.SetString(path, value)
	case "chrono:sec":
		d, err := time.ParseDuration(value + "s")
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, uint64(d.Seconds()))
	case "chrono:min":
		d, err := time.ParseDuration(value + "m")
		if err != nil {
			return err
		}
		return cfg.SetUint64(path, uint64(d.Minutes()))
	case "ip:address":
		if net.ParseIP(value) == nil {
			return fmt.Errorf("invalid ip:address %q", value)
		}
		return cfg.SetString(path, value)
	default:
		return fmt.Errorf("unsupported set-config type %q", typ)
	}
}

func cmdDumpProfile(configFile string, index int, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: dump-profile N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid profile index %q: %w", args[0], err)
	}
	_ = config.Init(configFile, index)
	cfg := config.Keys
	if n < 0 || n >= len(cfg.IPT) {
		return fmt.Errorf("no ipt profile at index %d (have %d)", n, len(cfg.IPT))
	}
	p := cfg.IPT[n]
	fmt.Printf("ipt[%d]: host=%s service=%s account=%s scrambled=%v monitor=%ds def-sk=%s\n",
		n, p.Host, p.Service, p.Account, p.Scrambled, p.Monitor, redactKey(p.DefSK))
	return nil
}

func redactKey(hexKey string) string {
	if len(hexKey) <= 8 {
		return strings.Repeat("*", len(hexKey))
	}
	return hexKey[:4] + strings.Repeat("*", len(hexKey)-8) + hexKey[len(hexKey)-4:]
}

// cmdTryConnect dials host:port, runs the public login handshake, and
// reports the response code, exercising the same wire codec the real
// session uses without touching any cache table.
func cmdTryConnect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: try-connect user:pwd@host:port")
	}
	userpass, hostport, ok := strings.Cut(args[0], "@")
	if !ok {
		return fmt.Errorf("malformed target %q, want user:pwd@host:port", args[0])
	}
	user, pwd, ok := strings.Cut(userpass, ":")
	if !ok {
		return fmt.Errorf("malformed credentials %q, want user:pwd", userpass)
	}

	conn, err := net.DialTimeout("tcp", hostport, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", hostport, err)
	}
	defer conn.Close()

	var seq ipt.Sequence
	body := ipt.LoginPublicReq{Name: user, Pwd: pwd}.Encode()
	frame := ipt.Encode(ipt.CtrlReqLoginPublic, seq.Next(), body)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write login request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	respFrame, consumed, err := ipt.Decode(buf[:n])
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if consumed == 0 {
		return fmt.Errorf("incomplete response frame (%d bytes)", n)
	}
	if respFrame.Command != ipt.CtrlResLoginPublic {
		return fmt.Errorf("unexpected response command %s", respFrame.Command)
	}

	res, err := ipt.DecodeLoginRes(respFrame.Body)
	if err != nil {
		return fmt.Errorf("decode login response body: %w", err)
	}
	fmt.Printf("try-connect: %s -> code=0x%02x success=%v watchdog=%ds redirect=%q\n",
		hostport, byte(res.Code), ipt.IsLoginSuccess(res.Code), res.Watchdog, res.Redirect)

	// The default scramble key is used until a scrambled login
	// negotiates a new one; surfacing it lets an operator confirm
	// the probe decoded under the key they expect.
	fmt.Printf("try-connect: decoded under default scramble key %s\n", hex.EncodeToString(scramble.DefaultKey[:4]))
	return nil
}

type boundConfig struct {
	db    *sqlx.DB
	store *store.Config
}

func openConfig(path string, index int) (*boundConfig, error) {
	_ = config.Init(path, index)
	cfg := config.Keys
	sqlDB, err := store.OpenSQLite(cfg.DB.File)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DB.File, err)
	}
	cfgStore, err := store.NewConfig(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &boundConfig{db: sqlDB, store: cfgStore}, nil
}
