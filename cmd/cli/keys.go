package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	pwd, nick = "", ""
	useBLS    = false
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "manage the encrypted validator keystore",
}

var keysNewCmd = &cobra.Command{
	Use:   "new --bls --nickname=alice",
	Short: "generate a validator key and add it to the keystore",
	Run: func(cmd *cobra.Command, args []string) {
		writeToConsole(newKey(DataDir, useBLS, getPassword(), nick))
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "list the nicknames and addresses in the keystore",
	Run: func(cmd *cobra.Command, args []string) {
		writeToConsole(listKeys(DataDir))
	},
}

func init() {
	keysCmd.PersistentFlags().StringVar(&pwd, "password", "", "keystore password, prompted for when empty")
	keysNewCmd.Flags().StringVar(&nick, "nickname", "", "nickname of the key, generated when empty")
	keysNewCmd.Flags().BoolVar(&useBLS, "bls", false, "generate a BLS12-381 key instead of ed25519")
	keysCmd.AddCommand(keysNewCmd)
	keysCmd.AddCommand(keysListCmd)
}

// keyEntry is one line of the keystore listing
type keyEntry struct {
	Nickname  string `json:"nickname"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// newKey() creates a key, encrypts it under the password and saves the keystore
func newKey(dataDirPath string, bls bool, password, nickname string) (*keyEntry, error) {
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		return nil, err
	}
	var (
		pk  crypto.PrivateKeyI
		err error
	)
	if bls {
		pk, err = crypto.NewBLS12381PrivateKey()
	} else {
		pk, err = crypto.NewEd25519PrivateKey()
	}
	if err != nil {
		return nil, err
	}
	ks, err := crypto.NewKeystoreFromFile(dataDirPath)
	if err != nil {
		return nil, err
	}
	address, err := ks.ImportRaw(pk.Bytes(), password, nickname)
	if err != nil {
		return nil, err
	}
	if err = ks.SaveToFile(dataDirPath); err != nil {
		return nil, err
	}
	encrypted := ks.ByAddress[address]
	return &keyEntry{Nickname: encrypted.Nickname, Address: address, PublicKey: encrypted.PublicKey}, nil
}

// listKeys() returns the keystore entries ordered by nickname
func listKeys(dataDirPath string) ([]keyEntry, error) {
	ks, err := crypto.NewKeystoreFromFile(dataDirPath)
	if err != nil {
		return nil, err
	}
	var list []keyEntry
	for address, encrypted := range ks.ByAddress {
		list = append(list, keyEntry{Nickname: encrypted.Nickname, Address: address, PublicKey: encrypted.PublicKey})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Nickname < list[j].Nickname })
	return list, nil
}

// loadKeys() decrypts every key of the keystore in nickname order
func loadKeys(dataDirPath, password string) (keys []crypto.PrivateKeyI, err error) {
	list, err := listKeys(dataDirPath)
	if err != nil {
		return nil, err
	}
	ks, err := crypto.NewKeystoreFromFile(dataDirPath)
	if err != nil {
		return nil, err
	}
	for _, entry := range list {
		kg, e := ks.GetKeyGroupByNickname(entry.Nickname, password)
		if e != nil {
			return nil, fmt.Errorf("unable to decrypt key %s: %w", entry.Nickname, e)
		}
		keys = append(keys, kg.PrivateKey)
	}
	return
}

// getPassword() prompts for the keystore password unless it was passed as a flag
func getPassword() string {
	// allow flag config to skip the prompt
	if pwd != "" {
		return pwd
	}
	fmt.Println("Enter keystore password:")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		l.Fatal(err.Error())
	}
	if len(password) == 0 {
		fmt.Println("Password cannot be empty")
		return getPassword()
	}
	return string(password)
}
