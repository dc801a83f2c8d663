package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjarratt/babble"
	"golang.org/x/crypto/argon2"
)

const (
	KeyStoreName = "keystore.json"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrNicknameTaken   = errors.New("nickname already in use")
)

// Keystore represents a lightweight database of encrypted validator private keys
type Keystore struct {
	ByAddress  map[string]*EncryptedPrivateKey `json:"addressMap"`
	ByNickname map[string]string               `json:"nicknameMap"` // nickname -> address
}

// NewKeystoreInMemory() creates a new in memory keystore
func NewKeystoreInMemory() *Keystore {
	return &Keystore{
		ByAddress:  make(map[string]*EncryptedPrivateKey),
		ByNickname: make(map[string]string),
	}
}

// NewKeystoreFromFile() creates a new keystore object from a file; a missing file is an empty keystore
func NewKeystoreFromFile(dataDirPath string) (*Keystore, error) {
	path := filepath.Join(dataDirPath, KeyStoreName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return NewKeystoreInMemory(), nil
	}
	ksBz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ks := NewKeystoreInMemory()
	if err = json.Unmarshal(ksBz, ks); err != nil {
		return nil, err
	}
	return ks, nil
}

// ImportRaw() encrypts a raw private key with the password and adds it under its address
// An empty nickname is replaced by a generated two word nickname
func (ks *Keystore) ImportRaw(privateKeyBytes []byte, password, nickname string) (address string, err error) {
	if password == "" {
		return "", ErrInvalidPassword
	}
	privateKey, err := NewPrivateKeyFromBytes(privateKeyBytes)
	if err != nil {
		return
	}
	if nickname == "" {
		nickname = ks.newNickname()
	}
	if _, taken := ks.ByNickname[nickname]; taken {
		return "", ErrNicknameTaken
	}
	publicKey := privateKey.PublicKey()
	encrypted, err := EncryptPrivateKey(publicKey.Bytes(), privateKeyBytes, []byte(password), nickname)
	if err != nil {
		return
	}
	address = publicKey.Address().String()
	ks.ByAddress[address] = encrypted
	ks.ByNickname[nickname] = address
	return
}

// GetKeyGroup() returns the full keygroup for an address and decrypts the private key using the password
func (ks *Keystore) GetKeyGroup(address []byte, password string) (*KeyGroup, error) {
	v, ok := ks.ByAddress[hex.EncodeToString(address)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if password == "" {
		return nil, ErrInvalidPassword
	}
	pk, err := DecryptPrivateKey(v, []byte(password))
	if err != nil {
		return nil, err
	}
	return NewKeyGroup(pk), nil
}

// GetKeyGroupByNickname() resolves the nickname and decrypts the matching key
func (ks *Keystore) GetKeyGroupByNickname(nickname, password string) (*KeyGroup, error) {
	address, ok := ks.ByNickname[nickname]
	if !ok {
		return nil, ErrKeyNotFound
	}
	bz, err := hex.DecodeString(address)
	if err != nil {
		return nil, err
	}
	return ks.GetKeyGroup(bz, password)
}

// DeleteKey() removes a private key and its nickname from the store given an address
func (ks *Keystore) DeleteKey(address []byte) {
	key := hex.EncodeToString(address)
	if v, ok := ks.ByAddress[key]; ok && v.Nickname != "" {
		delete(ks.ByNickname, v.Nickname)
	}
	delete(ks.ByAddress, key)
}

// SaveToFile() persists the keystore to the data directory
func (ks *Keystore) SaveToFile(dataDirPath string) error {
	bz, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDirPath, KeyStoreName), bz, 0600)
}

// newNickname() generates an unused two word nickname, falling back to a counter when no word list is available
func (ks *Keystore) newNickname() string {
	for i := 0; ; i++ {
		nickname := babbleWords()
		if nickname == "" || i > 8 {
			nickname = fmt.Sprintf("validator-%d", len(ks.ByNickname)+i)
		}
		if _, taken := ks.ByNickname[nickname]; !taken {
			return nickname
		}
	}
}

// babbleWords() returns two random dictionary words; hosts without a dictionary yield an empty string
func babbleWords() (words string) {
	defer func() {
		if r := recover(); r != nil {
			words = ""
		}
	}()
	b := babble.NewBabbler()
	b.Count, b.Separator = 2, "-"
	return strings.ToLower(b.Babble())
}

// EncryptedPrivateKey represents an encrypted form of a private key, including the public key,
// salt used in key derivation, and the encrypted private key itself
type EncryptedPrivateKey struct {
	PublicKey string `json:"publicKey"`
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
	Nickname  string `json:"nickname"`
}

// EncryptPrivateKey creates an encrypted private key by generating a random salt
// and deriving an encryption key with the KDF, and finally encrypting key using AES-GCM
func EncryptPrivateKey(publicKey, privateKey, password []byte, nickname string) (*EncryptedPrivateKey, error) {
	// generate random 16 bytes salt
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	// derive an AES-GCM encryption key and nonce using the password and salt
	gcm, nonce, err := kdf(password, salt)
	if err != nil {
		return nil, err
	}
	// encrypt the private key with AES-GCM using the derived key and nonce
	return &EncryptedPrivateKey{
		PublicKey: hex.EncodeToString(publicKey),
		Salt:      hex.EncodeToString(salt),
		Encrypted: hex.EncodeToString(gcm.Seal(nil, nonce, privateKey, nil)),
		Nickname:  nickname,
	}, nil
}

// DecryptPrivateKey takes an EncryptedPrivateKey and decrypts it to a PrivateKeyI interface using the password
func DecryptPrivateKey(epk *EncryptedPrivateKey, password []byte) (pk PrivateKeyI, err error) {
	salt, err := hex.DecodeString(epk.Salt)
	if err != nil {
		return nil, err
	}
	encrypted, err := hex.DecodeString(epk.Encrypted)
	if err != nil {
		return nil, err
	}
	gcm, nonce, err := kdf(password, salt)
	if err != nil {
		return nil, err
	}
	plainText, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return NewPrivateKeyFromBytes(plainText)
}

// kdf derives an AES-GCM encryption key and nonce from a password and salt using Argon2 key derivation
// This key is used to initialize AES-GCM, and a 12-byte nonce is returned for encryption
func kdf(password, salt []byte) (gcm cipher.AEAD, nonce []byte, err error) {
	// use Argon2 to derive a 32 byte key from the password and salt
	key := argon2.Key(password, salt, 3, 32*1024, 4, 32)
	// init AES block cipher with the derived key
	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}
	// init AES-GCM mode with the AES cipher block
	if gcm, err = cipher.NewGCM(block); err != nil {
		return
	}
	// return the gcm and the 12 byte nonce
	return gcm, key[:12], nil
}
