package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/copernet/blockstore/conf"
	"github.com/copernet/blockstore/log"
	"github.com/copernet/blockstore/persist"
	"github.com/copernet/blockstore/persist/disk"
	"github.com/copernet/blockstore/reindex"
)

type opts struct {
	DataDir  string `long:"datadir" description:"data directory holding blocks/ and the index"`
	Conf     string `long:"conf" description:"configuration file (ini)"`
	Reindex  bool   `long:"reindex" description:"rebuild the block index from the raw block files"`
	LogLevel string `long:"loglevel" description:"emergency|alert|critical|error|warn|notice|info|debug"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o := new(opts)
	if _, err := flags.ParseArgs(o, args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := conf.InitConfig(o.Conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad configuration: %v\n", err)
		return 1
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Reindex {
		cfg.Reindex = true
	}
	conf.Cfg = cfg
	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", logDir, err)
		return 1
	}
	if err := log.Init(logDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "cannot set up logging: %v\n", err)
		return 1
	}

	bdb, err := persist.NewBlocksDB(&persist.Config{
		BlocksDir:    cfg.BlocksDir(),
		IndexDir:     cfg.IndexDir(),
		AltBlockDirs: cfg.BlockDataDirs,
		CacheSize:    cfg.DBCacheSize,
		Magic:        disk.DefaultMagic,
		Wipe:         cfg.Reindex,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open block store: %v\n", err)
		return 1
	}
	defer bdb.Close()

	// An interrupted reindex resumes on the next start.
	if cfg.Reindex || bdb.IsReindexing() {
		if err := reindex.Reindex(bdb); err != nil {
			fmt.Fprintf(os.Stderr, "reindex failed: %v\n", err)
			return 1
		}
	} else {
		if err := bdb.CacheAllBlockInfos(); err != nil {
			fmt.Fprintf(os.Stderr, "cannot load block index: %v\n", err)
			return 1
		}
		bdb.RestoreChains()
	}

	printSummary(bdb)
	return 0
}

func printSummary(bdb *persist.BlocksDB) {
	fmt.Printf("block index entries: %d\n", bdb.IndexCount())

	lastFile := bdb.FileStore().LastFile()
	for n := int32(0); n <= lastFile; n++ {
		info := bdb.FileStore().FileInfo(n)
		if info == nil {
			continue
		}
		fmt.Printf("%s: %s\n", disk.FileName(n, disk.RoleBlock), info.String())
	}

	tip := bdb.HeaderChain().Tip()
	if tip == nil {
		fmt.Println("chain tip: none")
		return
	}
	fmt.Printf("chain tip: %s height=%d work=%s\n",
		tip.GetBlockHash().String(), tip.Height, tip.ChainWork.Text(16))
	for _, branchTip := range bdb.HeaderChainTips() {
		if branchTip != tip {
			fmt.Printf("side branch tip: %s height=%d\n",
				branchTip.GetBlockHash().String(), branchTip.Height)
		}
	}
}
