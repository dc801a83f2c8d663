package lib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements logic for 'user controlled' global configurations of each module of the node */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json"   // the file path for the node configuration
	KeystorePath   = "keystore.json" // the file path for the encrypted validator keys
)

const (
	DefaultNetworkMagic = uint32(0x4E454F33) // the default network identifier mixed into every signed payload
)

// Config is the structure of the user configuration options for a dBFT node
type Config struct {
	MainConfig      // main options spanning over all modules
	RPCConfig       // rpc API options
	StoreConfig     // persistence options
	ConsensusConfig // bft options
	MempoolConfig   // mempool options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		RPCConfig:       DefaultRPCConfig(),
		StoreConfig:     DefaultStoreConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		MempoolConfig:   DefaultMempoolConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// Validate() ensures the configuration is usable; any error is fatal at construction time
func (c Config) Validate() ErrorI {
	if err := c.ConsensusConfig.Validate(); err != nil {
		return err
	}
	return c.MempoolConfig.Validate()
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel: "info", // everything but debug is the default
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 { return ParseLogLevel(m.LogLevel) }

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCPort  string `json:"rpcPort"`  // the port where the status rpc server is hosted
	TimeoutS int    `json:"timeoutS"` // the rpc request timeout in seconds
}

// DefaultRPCConfig() serves the status rpc on localhost:50002
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCPort:  "50002", // the rpc is served on localhost:50002
		TimeoutS: 3,       // the rpc timeout is 3 seconds
	}
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines the committee size and the timing of dBFT rounds
// NOTES:
// - the base view timeout doubles with every view (wrapping every 16 views)
// - BlockTimeMS paces the primary; a primary never proposes before the previous block is BlockTimeMS old
type ConsensusConfig struct {
	NetworkMagic            uint32 `json:"networkMagic"`            // network identifier included in every signed payload
	ValidatorCount          int    `json:"validatorCount"`          // n, the size of the committee
	FaultCount              int    `json:"faultCount"`              // optional assertion of f; 0 means derive f from n
	BlockTimeMS             int    `json:"blockTimeMS"`             // target interval between blocks in milliseconds
	ViewTimeoutMS           int    `json:"viewTimeoutMS"`           // base timeout of view 0 in milliseconds
	MaxTransactionsPerBlock int    `json:"maxTransactionsPerBlock"` // upper bound of transactions referenced by one proposal
	MaxBlockTimeDriftMS     int    `json:"maxBlockTimeDriftMS"`     // how far into the future a proposal timestamp may be
	RecoveryOnStart         bool   `json:"recoveryOnStart"`         // broadcast a RecoveryRequest when the engine starts
}

// DefaultConsensusConfig() configures a 4 validator committee with 3 second view timeouts
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		NetworkMagic:            DefaultNetworkMagic,
		ValidatorCount:          4,     // f = 1
		FaultCount:              0,     // derived
		BlockTimeMS:             1000,  // 1 second
		ViewTimeoutMS:           3000,  // 3 seconds
		MaxTransactionsPerBlock: 512,   // 512 txs per block
		MaxBlockTimeDriftMS:     60000, // 1 minute
		RecoveryOnStart:         true,
	}
}

// Validate() checks the n / f relationship and the timing options
func (c ConsensusConfig) Validate() ErrorI {
	if c.ValidatorCount < 1 {
		return ErrInvalidConfig(fmt.Sprintf("validatorCount must be positive, got %d", c.ValidatorCount))
	}
	if c.ValidatorCount > MaxValidators {
		return ErrInvalidConfig(fmt.Sprintf("validatorCount must be at most %d, got %d", MaxValidators, c.ValidatorCount))
	}
	if f := FaultTolerance(c.ValidatorCount); c.FaultCount != 0 && c.FaultCount != f {
		return ErrInvalidConfig(fmt.Sprintf("faultCount %d does not match floor((n-1)/3) = %d for n = %d", c.FaultCount, f, c.ValidatorCount))
	}
	if c.ViewTimeoutMS <= 0 {
		return ErrInvalidConfig(fmt.Sprintf("viewTimeoutMS must be positive, got %d", c.ViewTimeoutMS))
	}
	if c.BlockTimeMS < 0 {
		return ErrInvalidConfig(fmt.Sprintf("blockTimeMS must not be negative, got %d", c.BlockTimeMS))
	}
	if c.MaxTransactionsPerBlock <= 0 {
		return ErrInvalidConfig(fmt.Sprintf("maxTransactionsPerBlock must be positive, got %d", c.MaxTransactionsPerBlock))
	}
	if c.MaxBlockTimeDriftMS < 0 {
		return ErrInvalidConfig(fmt.Sprintf("maxBlockTimeDriftMS must not be negative, got %d", c.MaxBlockTimeDriftMS))
	}
	return nil
}

// ViewTimeout() returns the base timeout as a duration
func (c *ConsensusConfig) ViewTimeout() time.Duration {
	return time.Duration(c.ViewTimeoutMS) * time.Millisecond
}

// BlockTime() returns the target block interval as a duration
func (c *ConsensusConfig) BlockTime() time.Duration {
	return time.Duration(c.BlockTimeMS) * time.Millisecond
}

// MaxBlockTimeDrift() returns the allowed future drift of a proposal timestamp
func (c *ConsensusConfig) MaxBlockTimeDrift() time.Duration {
	return time.Duration(c.MaxBlockTimeDriftMS) * time.Millisecond
}

// STORE CONFIG BELOW

// StoreConfig is user configurations for the key value database
type StoreConfig struct {
	DataDirPath string `json:"dataDirPath"` // path of the designated folder where the application stores its data
	DBName      string `json:"dbName"`      // name of the database
	InMemory    bool   `json:"inMemory"`    // non-disk database, only for testing
}

// DefaultDataDirPath() is $USERHOME/.dbft
func DefaultDataDirPath() string {
	// get the user home
	home, err := os.UserHomeDir()
	// if unable to get the user home
	if err != nil {
		// fatal error
		panic(err)
	}
	// exit with full default data directory path
	return filepath.Join(home, ".dbft")
}

// DefaultStoreConfig() returns the developer recommended store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath: DefaultDataDirPath(), // use the default data dir path
		DBName:      "dbft",               // 'dbft' database name
		InMemory:    false,                // persist to disk, not memory
	}
}

// MEMPOOL CONFIG BELOW

// MempoolConfig is the user configuration of the unconfirmed transaction pool
type MempoolConfig struct {
	MaxTotalBytes       uint64 `json:"maxTotalBytes"`       // maximum collective bytes in the pool
	MaxTransactionCount uint32 `json:"maxTransactionCount"` // max number of Transactions
	IndividualMaxTxSize uint32 `json:"individualMaxTxSize"` // max bytes of a single Transaction
}

// DefaultMempoolConfig() returns the developer created Mempool options
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		MaxTotalBytes:       uint64(10 * units.MB),      // 10 MB max size
		IndividualMaxTxSize: uint32(4 * units.Kilobyte), // 4 KB max individual tx size
		MaxTransactionCount: 5000,                       // 5000 max transactions
	}
}

// Validate() ensures the pool limits are non-zero
func (m MempoolConfig) Validate() ErrorI {
	if m.MaxTotalBytes == 0 || m.MaxTransactionCount == 0 || m.IndividualMaxTxSize == 0 {
		return ErrInvalidConfig("mempool limits must be positive")
	}
	if uint64(m.IndividualMaxTxSize) > m.MaxTotalBytes {
		return ErrInvalidConfig("individualMaxTxSize exceeds maxTotalBytes")
	}
	return nil
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,           // enabled by default
		PrometheusAddress: "0.0.0.0:9090", // the default prometheus address
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) error {
	// convert the config to indented 'pretty' json bytes
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	// if an error occurred during the conversion
	if err != nil {
		// exit with error
		return ErrJSONMarshal(err)
	}
	// write the config.json file to the data directory
	if err = os.WriteFile(filepath, jsonBytes, os.ModePerm); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, error) {
	// read the file into bytes using
	fileBytes, err := os.ReadFile(filepath)
	// if an error occurred
	if err != nil {
		// exit with error
		return Config{}, ErrReadFile(err)
	}
	// define the default config to fill in any blanks in the file
	c := DefaultConfig()
	// populate the default config with the file bytes
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		// exit with error
		return Config{}, ErrJSONUnmarshal(err)
	}
	// exit
	return c, nil
}
