// Package keyring stores relay credentials. It uses the system keyring
// when available, falling back to an encrypted local file bound to this
// machine when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/yllada/relayhop/common"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "relayhop"

// Credentials is the username/password pair a relay expects.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Storage backend state
var (
	initOnce        sync.Once
	useLocalStorage bool
	localStoreMu    sync.RWMutex
	localStore      map[string]Credentials
	localStoreFile  string
	encryptionKey   []byte
)

func initStorage() {
	initOnce.Do(func() {
		// Try the system keyring first
		testKey := "relayhop-test-init"
		if err := keyring.Set(serviceName, testKey, "test"); err == nil {
			keyring.Delete(serviceName, testKey)
			return
		}
		useLocalStorage = true
		initLocalStorage()
	})
}

func initLocalStorage() {
	configDir, err := common.GetConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config", common.ConfigDirName)
		os.MkdirAll(configDir, 0700)
	}
	localStoreFile = filepath.Join(configDir, ".credentials")

	// Derive the encryption key from machine-specific data so the file
	// is useless when copied to another host.
	hostname, _ := os.Hostname()
	keyData := fmt.Sprintf("relayhop-%s-%s-%d", hostname, machineID(), os.Getuid())
	hash := sha256.Sum256([]byte(keyData))
	encryptionKey = hash[:]

	localStore = make(map[string]Credentials)
	loadLocalStore()
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func loadLocalStore() {
	data, err := os.ReadFile(localStoreFile)
	if err != nil {
		return
	}
	decrypted, err := decrypt(data)
	if err != nil {
		return
	}
	json.Unmarshal(decrypted, &localStore)
}

func saveLocalStore() error {
	localStoreMu.RLock()
	data, err := json.Marshal(localStore)
	localStoreMu.RUnlock()
	if err != nil {
		return err
	}
	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(localStoreFile, encrypted, 0600)
}

func encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Store saves the credentials for a relay account.
func Store(account string, creds Credentials) error {
	if account == "" {
		return errors.New("account cannot be empty")
	}
	if creds.Username == "" || creds.Password == "" {
		return errors.New("credentials cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		return storeLocal(account, creds)
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := keyring.Set(serviceName, account, string(payload)); err != nil {
		// Fall back to local storage
		useLocalStorage = true
		initLocalStorage()
		return storeLocal(account, creds)
	}
	return nil
}

func storeLocal(account string, creds Credentials) error {
	localStoreMu.Lock()
	localStore[account] = creds
	localStoreMu.Unlock()
	return saveLocalStore()
}

// Lookup retrieves the credentials for a relay account.
func Lookup(account string) (Credentials, error) {
	if account == "" {
		return Credentials{}, errors.New("account cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		localStoreMu.RLock()
		creds, exists := localStore[account]
		localStoreMu.RUnlock()
		if !exists {
			return Credentials{}, common.ErrCredentialsNotFound
		}
		return creds, nil
	}

	payload, err := keyring.Get(serviceName, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, common.ErrCredentialsNotFound
		}
		localStoreMu.RLock()
		creds, exists := localStore[account]
		localStoreMu.RUnlock()
		if exists {
			return creds, nil
		}
		return Credentials{}, common.ErrCredentialsNotFound
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(payload), &creds); err != nil {
		return Credentials{}, common.WrapError(err, "stored credentials are corrupt")
	}
	return creds, nil
}

// Delete removes the credentials for a relay account.
func Delete(account string) error {
	if account == "" {
		return errors.New("account cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		localStoreMu.Lock()
		delete(localStore, account)
		localStoreMu.Unlock()
		return saveLocalStore()
	}

	keyring.Delete(serviceName, account)

	// Also drop any local copy left from an earlier fallback
	localStoreMu.Lock()
	if localStore != nil {
		delete(localStore, account)
		localStoreMu.Unlock()
		saveLocalStore()
	} else {
		localStoreMu.Unlock()
	}
	return nil
}

// Exists reports whether credentials are stored for a relay account.
func Exists(account string) bool {
	_, err := Lookup(account)
	return err == nil
}

// WriteAuthFile writes the two-line auth file the tunnel process reads
// via --auth-user-pass. The caller owns the file and should remove it
// when the session ends.
func WriteAuthFile(creds Credentials) (string, error) {
	f, err := os.CreateTemp("", "relayhop-auth-*")
	if err != nil {
		return "", common.WrapError(err, "failed to create auth file")
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", creds.Username, creds.Password); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", common.WrapError(err, "failed to write auth file")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", common.WrapError(err, "failed to write auth file")
	}
	return f.Name(), nil
}
