// Package conf parses the environment's on-disk configuration file,
// DB_CONFIG (spec §6), and resolves the home directory from the command
// line or from DB_HOME/DB_HOME_ROOT, the way the teacher repo's server/conf
// package loads mysqld.cnf into a typed Cfg struct.
package conf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kvenginehq/waldb/server/innodb/errs"
)

// CommandLineArgs carries the one path override the core accepts; CLI
// argument parsing beyond this is out of scope (Non-goals: CLI parsers).
type CommandLineArgs struct {
	Home string
}

// LockDetect is the deadlock victim-selection policy, spec §5/§6.
type LockDetect string

const (
	LockDetectDefault  LockDetect = "DEFAULT"
	LockDetectExpire   LockDetect = "EXPIRE"
	LockDetectMaxLocks LockDetect = "MAXLOCKS"
	LockDetectMinLocks LockDetect = "MINLOCKS"
	LockDetectMinWrite LockDetect = "MINWRITE"
	LockDetectMaxWrite LockDetect = "MAXWRITE"
	LockDetectOldest   LockDetect = "OLDEST"
	LockDetectYoungest LockDetect = "YOUNGEST"
	LockDetectRandom   LockDetect = "RANDOM"
)

// Cfg is the parsed DB_CONFIG plus home-directory layout, consumed by
// the environment open sequence (spec §4.5.1 step 2).
type Cfg struct {
	Home    string
	DataDir string
	LogDir  string
	TmpDir  string

	CacheSizeBytes  uint64
	CacheSizeGBytes uint64
	CacheSizeSegs   int

	Flags map[string]bool // set_flags tokens, e.g. TXN_NOSYNC

	LgBSize      int
	LgMax        int
	LgRegionMax  int
	LkDetect     LockDetect
	LkMaxLocks   int
	LkMaxLockers int
	LkMaxObjects int
	LockTimeout  time.Duration
	MpMmapSize   int64
	MpMaxOpenFd  int
	MpMaxWrite   [2]int
	ShmKey       int64
	TasSpins     int
	TxMax        int
	TxnTimeout   time.Duration
	Verbose      map[string]bool

	ErrorFile   string
	ErrorPrefix string
}

// Default mirrors the teacher's NewCfg: sane defaults before DB_CONFIG
// is applied, so an environment with no config file still opens.
func Default() *Cfg {
	return &Cfg{
		Flags:        map[string]bool{},
		Verbose:      map[string]bool{},
		LgBSize:      32 * 1024,
		LgMax:        10 * 1024 * 1024,
		LgRegionMax:  60 * 1024,
		LkDetect:     LockDetectDefault,
		LkMaxLocks:   1000,
		LkMaxLockers: 1000,
		LkMaxObjects: 1000,
		TasSpins:     1,
		TxMax:        100,
	}
}

// ResolveHome resolves the home directory. args.Home, when set, always
// wins. Otherwise DB_HOME is used whenever it is set, with no
// USE_ENVIRON switch consulted; DB_HOME_ROOT is used only when DB_HOME
// is unset, useEnvironRoot is true and the process runs as uid 0. An
// empty value of either variable is rejected.
func ResolveHome(args CommandLineArgs, useEnvironRoot bool) (string, error) {
	if args.Home != "" {
		return args.Home, nil
	}
	if v, ok := os.LookupEnv("DB_HOME"); ok {
		if v == "" {
			return "", errs.New(errs.InvalidArgument, "DB_HOME is set but empty")
		}
		return v, nil
	}
	if useEnvironRoot && os.Geteuid() == 0 {
		if v, ok := os.LookupEnv("DB_HOME_ROOT"); ok {
			if v == "" {
				return "", errs.New(errs.InvalidArgument, "DB_HOME_ROOT is set but empty")
			}
			return v, nil
		}
	}
	return "", errs.New(errs.InvalidArgument, "no home directory given: pass Home or set DB_HOME")
}

// Load reads home/DB_CONFIG if present and overlays it on top of cfg's
// current values. It is not an error for the file to be absent.
func (cfg *Cfg) Load(home string) error {
	cfg.Home = home
	if cfg.DataDir == "" {
		cfg.DataDir = home
	}
	if cfg.LogDir == "" {
		cfg.LogDir = home
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = home
	}

	path := filepath.Join(home, "DB_CONFIG")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.IoError, err, "open DB_CONFIG")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if err := cfg.applyDirective(fields); err != nil {
			return errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("DB_CONFIG:%d: %s", lineNo, trimmed))
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.IoError, err, "read DB_CONFIG")
	}
	return nil
}

func (cfg *Cfg) applyDirective(fields []string) error {
	name, args := fields[0], fields[1:]
	switch name {
	case "set_data_dir":
		return cfg.setPath(&cfg.DataDir, args)
	case "set_lg_dir":
		return cfg.setPath(&cfg.LogDir, args)
	case "set_tmp_dir":
		return cfg.setPath(&cfg.TmpDir, args)
	case "set_cachesize":
		return cfg.setCacheSize(args)
	case "set_flags":
		return cfg.setToggle(cfg.Flags, args)
	case "set_verbose":
		return cfg.setToggle(cfg.Verbose, args)
	case "set_lg_bsize":
		return setInt(&cfg.LgBSize, args)
	case "set_lg_max":
		return setInt(&cfg.LgMax, args)
	case "set_lg_regionmax":
		return setInt(&cfg.LgRegionMax, args)
	case "set_lk_detect":
		return cfg.setLkDetect(args)
	case "set_lk_max_locks":
		return setInt(&cfg.LkMaxLocks, args)
	case "set_lk_max_lockers":
		return setInt(&cfg.LkMaxLockers, args)
	case "set_lk_max_objects":
		return setInt(&cfg.LkMaxObjects, args)
	case "set_lock_timeout":
		return setMicroseconds(&cfg.LockTimeout, args)
	case "set_txn_timeout":
		return setMicroseconds(&cfg.TxnTimeout, args)
	case "set_mp_mmapsize":
		return setInt64(&cfg.MpMmapSize, args)
	case "set_mp_max_openfd":
		return setInt(&cfg.MpMaxOpenFd, args)
	case "set_mp_max_write":
		return cfg.setMpMaxWrite(args)
	case "set_shm_key":
		return setInt64(&cfg.ShmKey, args)
	case "set_tas_spins":
		return setInt(&cfg.TasSpins, args)
	case "set_tx_max":
		return setInt(&cfg.TxMax, args)
	default:
		return fmt.Errorf("unrecognized DB_CONFIG directive %q", name)
	}
}

func (cfg *Cfg) setPath(dst *string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one path argument")
	}
	*dst = args[0]
	return nil
}

func (cfg *Cfg) setCacheSize(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("expected: bytes gbytes n")
	}
	bytes, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	gbytes, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return err
	}
	segs, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	cfg.CacheSizeBytes, cfg.CacheSizeGBytes, cfg.CacheSizeSegs = bytes, gbytes, segs
	return nil
}

func (cfg *Cfg) setToggle(dst map[string]bool, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected at least one token")
	}
	for _, tok := range args {
		dst[tok] = true
	}
	return nil
}

func (cfg *Cfg) setLkDetect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one policy token")
	}
	switch LockDetect(args[0]) {
	case LockDetectDefault, LockDetectExpire, LockDetectMaxLocks, LockDetectMinLocks,
		LockDetectMinWrite, LockDetectMaxWrite, LockDetectOldest, LockDetectYoungest, LockDetectRandom:
		cfg.LkDetect = LockDetect(args[0])
		return nil
	default:
		return fmt.Errorf("unrecognized lock-detect policy %q", args[0])
	}
}

func (cfg *Cfg) setMpMaxWrite(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected: n n")
	}
	a, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	b, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	cfg.MpMaxWrite = [2]int{a, b}
	return nil
}

func setInt(dst *int, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one integer argument")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setInt64(dst *int64, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one integer argument")
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setMicroseconds(dst *time.Duration, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one integer argument")
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	*dst = time.Duration(v) * time.Microsecond
	return nil
}
