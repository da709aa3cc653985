package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/astaxie/beego/config"
)

// Cfg is the process-wide configuration, set once at startup.
var Cfg *Configuration

const (
	defaultDataDirName = ".blockstore"
	defaultDBCacheSize = 300 << 20
	defaultLogLevel    = "info"
)

type Configuration struct {
	// DataDir holds the metadata db and the blocks/ directory.
	DataDir string
	// BlockDataDirs are extra directories searched, in order, when a block
	// file is not found under DataDir (read-only fallback).
	BlockDataDirs []string
	DBCacheSize   int
	TxIndex       bool
	Reindex       bool
	LogLevel      string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirName
	}
	return filepath.Join(home, defaultDataDirName)
}

func defaultConfig() *Configuration {
	return &Configuration{
		DataDir:     defaultDataDir(),
		DBCacheSize: defaultDBCacheSize,
		LogLevel:    defaultLogLevel,
	}
}

// InitConfig loads an ini file when path is non-empty, otherwise returns the
// defaults. Unknown keys are ignored.
func InitConfig(path string) (*Configuration, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	ini, err := config.NewConfig("ini", path)
	if err != nil {
		return nil, err
	}
	if v := ini.String("datadir"); v != "" {
		cfg.DataDir = v
	}
	if v := ini.String("blockdatadirs"); v != "" {
		for _, dir := range strings.Split(v, string(os.PathListSeparator)) {
			if dir != "" {
				cfg.BlockDataDirs = append(cfg.BlockDataDirs, dir)
			}
		}
	}
	if v, err := ini.Int("dbcachesize"); err == nil && v > 0 {
		cfg.DBCacheSize = v
	}
	cfg.TxIndex = ini.DefaultBool("txindex", false)
	cfg.Reindex = ini.DefaultBool("reindex", false)
	if v := ini.String("loglevel"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// BlocksDir is where blk?????.dat and rev?????.dat live.
func (c *Configuration) BlocksDir() string {
	return filepath.Join(c.DataDir, "blocks")
}

func (c *Configuration) IndexDir() string {
	return filepath.Join(c.BlocksDir(), "index")
}
