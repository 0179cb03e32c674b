// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/idxwallet/chain"
	"github.com/btcsuite/idxwallet/internal/cfgutil"
	"github.com/btcsuite/idxwallet/netparams"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "idxwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "idxwallet.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultNetwork        = "mainnet"
	defaultBackend        = "esplora"
	defaultRequestRate    = 5.0
	defaultSyncInterval   = time.Minute
	defaultFee            = 1000

	walletDbName = "wallet.db"
)

var (
	btcdDefaultCAFile  = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	defaultAppDataDir  = btcutil.AppDataDir("idxwallet", false)
	defaultConfigFile  = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultDataDir     = defaultAppDataDir
	defaultLogDir      = filepath.Join(defaultAppDataDir, defaultLogDirname)
	errUnknownBackend  = errors.New("unknown backend")
	errMissingIndexURL = errors.New("no default indexer URL for network")
)

type config struct {
	// General application behavior
	ConfigFile     *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        *cfgutil.ExplicitString `short:"b" long:"datadir" description:"Directory to store the wallet database"`
	Network        string                  `long:"network" description:"Network to use {mainnet, testnet3, testnet4, signet, regtest, simnet}"`
	DebugLevel     string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir         string                  `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int                     `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int                     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	// Indexer options
	Backend     string                  `long:"backend" description:"Blockchain data backend {esplora, mempool, btcd}"`
	IndexerURL  *cfgutil.ExplicitString `long:"indexerurl" description:"Base URL of the Esplora or mempool.space API (default depends on the network)"`
	RequestRate float64                 `long:"requestrate" description:"Maximum indexer requests per second (0 for no limit)"`
	GapLimit    int                     `long:"gaplimit" description:"Number of consecutive unused addresses ending a scan"`

	// btcd RPC options
	RPCConnect       string                  `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to (default localhost:8334, testnet3: localhost:18334)"`
	CAFile           *cfgutil.ExplicitString `long:"cafile" description:"File containing root certificates to authenticate a TLS connection with btcd"`
	DisableClientTLS bool                    `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`
	BtcdUsername     string                  `long:"btcdusername" description:"Username for btcd authentication"`
	BtcdPassword     string                  `long:"btcdpassword" default-mask:"-" description:"Password for btcd authentication"`

	// Subcommands
	Create    createCmd    `command:"create" description:"Create a wallet from a descriptor"`
	Refresh   refreshCmd   `command:"refresh" description:"Reconcile the wallet with the indexer"`
	Balance   balanceCmd   `command:"balance" description:"Show the wallet balance"`
	Coins     coinsCmd     `command:"coins" description:"List spendable coins"`
	History   historyCmd   `command:"history" description:"List the transaction history"`
	Address   addressCmd   `command:"address" description:"Show the next unused address"`
	Annotate  annotateCmd  `command:"annotate" description:"Attach a note to a transaction or address"`
	Construct constructCmd `command:"construct" description:"Construct an unsigned PSBT"`
	Publish   publishCmd   `command:"publish" description:"Broadcast a finalized transaction"`
	Sync      syncCmd      `command:"sync" description:"Refresh the wallet periodically until interrupted"`

	// Computed after parsing.
	params *netparams.Params
	certs  []byte
}

type createCmd struct {
	Descriptor string `long:"descriptor" required:"true" description:"Account descriptor, e.g. wpkh([fingerprint/84'/0'/0']xpub.../<0;1>/*)"`
	Name       string `long:"name" description:"Wallet name"`
}

type refreshCmd struct{}

type balanceCmd struct{}

type coinsCmd struct {
	NoPending bool `long:"nopending" description:"Hide coins spent by unconfirmed transactions"`
}

type historyCmd struct{}

type addressCmd struct {
	Change bool `long:"change" description:"Use the change keychain"`
	Shift  bool `long:"shift" description:"Hand out the address so the next call returns a fresh one"`
}

type annotateCmd struct {
	Txid    string `long:"txid" description:"Transaction to annotate"`
	Address string `long:"address" description:"Address to annotate"`
	Note    string `long:"note" required:"true" description:"Note text, empty to remove"`
}

type constructCmd struct {
	Coins     []string            `long:"coin" description:"Outpoint <txid>:<index> to spend, may be repeated (default: select coins automatically)"`
	To        []string            `long:"to" required:"true" description:"Beneficiary <amount>@<address>, amount in satoshis or MAX, may be repeated"`
	Fee       *cfgutil.AmountFlag `long:"fee" description:"Absolute fee in satoshis, or with a BTC suffix"`
	LockTime  uint32              `long:"locktime" description:"Transaction lock time"`
	Sequence  uint32              `long:"sequence" description:"Sequence number of every input"`
	NoShift   bool                `long:"noshift" description:"Reuse the current change address for the next transaction"`
	NoPending bool                `long:"nopending" description:"Do not select coins spent by unconfirmed transactions"`
}

type publishCmd struct {
	Args struct {
		Tx string `positional-arg-name:"rawtx" description:"Hex encoded transaction"`
	} `positional-args:"yes" required:"yes"`
}

type syncCmd struct {
	Interval time.Duration `long:"interval" description:"Time between refreshes"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func defaultConfig() config {
	return config{
		ConfigFile:     cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:        cfgutil.NewExplicitString(defaultDataDir),
		Network:        defaultNetwork,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Backend:        defaultBackend,
		IndexerURL:     cfgutil.NewExplicitString(""),
		RequestRate:    defaultRequestRate,
		GapLimit:       chain.DefaultGapLimit,
		CAFile:         cfgutil.NewExplicitString(btcdDefaultCAFile),
		Construct: constructCmd{
			Fee: cfgutil.NewAmountFlag(defaultFee),
		},
		Sync: syncCmd{
			Interval: defaultSyncInterval,
		},
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The returned command is the name of the subcommand to run.
func loadConfig() (*config, string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified. Subcommand options are unknown at this point.
	preCfg := struct {
		ConfigFile *cfgutil.ExplicitString `short:"C" long:"configfile"`
	}{
		ConfigFile: cfgutil.NewExplicitString(defaultConfigFile),
	}
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.Parse(); err != nil {
		return nil, "", err
	}

	// A config file in the current directory takes precedence over the
	// default one.
	configFile := preCfg.ConfigFile.Value
	if !preCfg.ConfigFile.ExplicitlySet() {
		exists, err := cfgutil.FileExists(defaultConfigFilename)
		if err != nil {
			return nil, "", err
		}
		if exists {
			configFile = defaultConfigFilename
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(configFile))
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, "", err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.Parse(); err != nil {
		return nil, "", err
	}

	// Warn about missing config file after the final command line parse
	// succeeds. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil && preCfg.ConfigFile.ExplicitlySet() {
		log.Warnf("%v", configFileError)
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, "", err
	}

	return &cfg, parser.Active.Name, nil
}

// validate checks option values, fills in network dependent defaults and
// initializes logging.
func (cfg *config) validate() error {
	params, err := netparams.ByName(cfg.Network)
	if err != nil {
		return err
	}
	cfg.params = params

	// Keep networks apart unless a data directory was given.
	cfg.DataDir.Value = cleanAndExpandPath(cfg.DataDir.Value)
	if !cfg.DataDir.ExplicitlySet() {
		cfg.DataDir.Value = filepath.Join(cfg.DataDir.Value, params.Name)
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	logFile := filepath.Join(cfg.LogDir, params.Name, defaultLogFilename)
	if cfg.MaxLogFiles > 0 {
		err := initLogRotator(
			logFile, int64(cfg.MaxLogFileSize)*1024, cfg.MaxLogFiles,
		)
		if err != nil {
			return err
		}
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	if cfg.GapLimit < 1 {
		return fmt.Errorf("gaplimit must be positive, got %d",
			cfg.GapLimit)
	}

	switch cfg.Backend {
	case "esplora", "mempool":
		if cfg.IndexerURL.ExplicitlySet() {
			break
		}
		cfg.IndexerURL.Value = params.EsploraURL
		if cfg.Backend == "mempool" {
			cfg.IndexerURL.Value = params.MempoolURL
		}
		if cfg.IndexerURL.Value == "" {
			return fmt.Errorf("%w %s, set --indexerurl",
				errMissingIndexURL, params.Name)
		}

	case "btcd":
		return cfg.validateBtcd()

	default:
		return fmt.Errorf("%w %q, expected one of %v", errUnknownBackend,
			cfg.Backend, chain.BackEnds())
	}

	return nil
}

func (cfg *config) validateBtcd() error {
	if cfg.RPCConnect == "" {
		cfg.RPCConnect = "localhost"
	}
	rpcConnect, err := cfgutil.NormalizeAddress(
		cfg.RPCConnect, cfg.params.RPCClientPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect network address: %w", err)
	}
	cfg.RPCConnect = rpcConnect

	if cfg.DisableClientTLS {
		host, _, _ := net.SplitHostPort(rpcConnect)
		if host != "localhost" && host != "127.0.0.1" &&
			host != "::1" {

			return fmt.Errorf("noclienttls is only allowed when " +
				"connecting to localhost")
		}
		return nil
	}

	caFile := cleanAndExpandPath(cfg.CAFile.Value)
	exists, err := cfgutil.FileExists(caFile)
	if err != nil {
		return err
	}
	if !exists {
		if cfg.CAFile.ExplicitlySet() {
			return fmt.Errorf("cafile %s does not exist", caFile)
		}
		log.Warnf("No btcd certificate at %s, relying on system "+
			"roots", caFile)
		return nil
	}
	cfg.certs, err = os.ReadFile(caFile)
	return err
}
