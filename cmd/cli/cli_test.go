package cli

import (
	"path/filepath"
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	msg, err := initConfig(dir, false)
	require.NoError(t, err)
	require.Contains(t, msg, lib.ConfigFilePath)
	c := loadConfig(dir)
	require.Equal(t, dir, c.DataDirPath)
	require.Equal(t, lib.DefaultConsensusConfig(), c.ConsensusConfig)
	// an existing file is kept unless forced
	_, err = initConfig(dir, false)
	require.Error(t, err)
	_, err = initConfig(dir, true)
	require.NoError(t, err)
}

func TestLoadConfigMissing(t *testing.T) {
	dir := t.TempDir()
	c := loadConfig(dir)
	require.Equal(t, dir, c.DataDirPath)
	require.Equal(t, lib.DefaultMempoolConfig(), c.MempoolConfig)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		bls    bool
	}{
		{name: "ed25519", detail: "ed25519 keys round trip through the keystore"},
		{name: "bls", detail: "bls keys round trip through the keystore", bls: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			b, err := newKey(dir, test.bls, "password", "b")
			require.NoError(t, err)
			a, err := newKey(dir, test.bls, "password", "a")
			require.NoError(t, err)
			list, err := listKeys(dir)
			require.NoError(t, err)
			require.Equal(t, []keyEntry{*a, *b}, list)
			keys, err := loadKeys(dir, "password")
			require.NoError(t, err)
			require.Len(t, keys, 2)
			require.Equal(t, a.Address, keys[0].PublicKey().Address().String())
			require.Equal(t, b.Address, keys[1].PublicKey().Address().String())
			_, err = loadKeys(dir, "wrong")
			require.Error(t, err)
		})
	}
}

func TestNewKeyErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := newKey(dir, false, "", "a")
	require.Error(t, err, "an empty password is refused")
	_, err = newKey(dir, false, "password", "a")
	require.NoError(t, err)
	_, err = newKey(dir, false, "password", "a")
	require.Error(t, err, "nicknames are unique")
}

func TestDevnetKeys(t *testing.T) {
	config = lib.DefaultConfig()
	config.ValidatorCount = 7
	fromKeystore, useBLS = false, false
	keys, err := devnetKeys()
	require.NoError(t, err)
	require.Len(t, keys, 7)
	// the keystore must hold enough keys for the committee
	DataDir, pwd, fromKeystore = t.TempDir(), "password", true
	defer func() { fromKeystore, pwd = false, "" }()
	_, err = newKey(DataDir, false, pwd, "only")
	require.NoError(t, err)
	_, err = devnetKeys()
	require.Error(t, err)
}
