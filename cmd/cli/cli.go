package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/canopy-network/dbft/cmd/rpc"
	"github.com/canopy-network/dbft/lib"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rootCmd = &cobra.Command{
	Use:   "dbft",
	Short: "a delegated byzantine fault tolerant consensus node",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config = loadConfig(DataDir)
		l = lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, DataDir)
		client = rpc.NewClient(rpcURL, config.RPCPort)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var (
	client, config, l = &rpc.Client{}, lib.Config{}, lib.LoggerI(nil)
	DataDir, rpcURL   = "", ""
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(devnetCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.PersistentFlags().StringVar(&DataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "http://localhost", "url of the node rpc")
}

// Execute() runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig() reads the config.json of the data directory, falling back to the defaults when missing
func loadConfig(dataDirPath string) lib.Config {
	c := lib.DefaultConfig()
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); err == nil {
		if c, err = lib.NewConfigFromFile(configFilePath); err != nil {
			log.Fatal(err.Error())
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Fatal(err.Error())
	}
	// set the data-directory
	c.DataDirPath = dataDirPath
	return c
}

// CONFIG COMMANDS BELOW

var forceOverwrite = false

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "manage the node configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "write the default config.json to the data directory",
	Run: func(cmd *cobra.Command, args []string) {
		writeToConsole(initConfig(DataDir, forceOverwrite))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the configuration in use",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Validate(); err != nil {
			l.Warnf("The configuration is invalid: %s", err.Error())
		}
		writeToConsole(config, nil)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceOverwrite, "force", false, "overwrite an existing config.json")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// initConfig() creates the data directory and writes the default configuration into it
func initConfig(dataDirPath string, force bool) (string, error) {
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		return "", err
	}
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); err == nil && !force {
		return "", fmt.Errorf("%s already exists, use --force to overwrite it", configFilePath)
	}
	c := lib.DefaultConfig()
	c.DataDirPath = dataDirPath
	if err := c.WriteToFile(configFilePath); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created %s", configFilePath), nil
}

// writeToConsole() prints the result of a command, numbers are grouped for readability
func writeToConsole(a any, err error) {
	if err != nil {
		l.Fatal(err.Error())
	}
	switch v := a.(type) {
	case int, uint32, uint64:
		p := message.NewPrinter(language.English)
		if _, err := p.Printf("%d\n", v); err != nil {
			l.Fatal(err.Error())
		}
	case string:
		fmt.Println(v)
	case *string:
		fmt.Println(*v)
	default:
		bz, err := lib.MarshalJSONIndent(a)
		if err != nil {
			l.Fatal(err.Error())
		}
		fmt.Println(string(bz))
	}
}
