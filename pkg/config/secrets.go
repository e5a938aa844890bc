package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file parameters.
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// SecretStore holds decrypted provider API keys in memory.
//
// Lookup precedence: decrypted file contents, then environment variables.
// The store is owned by the process lifecycle and injected where needed;
// there is no package-level secret state.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
	dir     string
}

// NewSecretStore creates an empty store rooted at dir.
func NewSecretStore(dir string) *SecretStore {
	return &SecretStore{
		secrets: make(map[string]string),
		dir:     dir,
	}
}

// Get returns a secret value by name, falling back to the environment.
func (s *SecretStore) Get(name string) (string, error) {
	s.mu.RLock()
	value, exists := s.secrets[name]
	s.mu.RUnlock()

	if exists && value != "" {
		return value, nil
	}
	if env := os.Getenv(name); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// Set stores a secret value in memory. Call Save to persist.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// Names returns the stored secret names (not values).
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	return names
}

// Exists reports whether an encrypted secrets file is present.
func (s *SecretStore) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, secretsFileName))
	return err == nil
}

// Save encrypts the in-memory secrets with the password and writes them to
// the store directory with 0600 permissions.
func (s *SecretStore) Save(password string) error {
	s.mu.RLock()
	plain, err := json.Marshal(s.secrets)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	// File layout: salt || nonce || ciphertext.
	sealed := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	path := filepath.Join(s.dir, secretsFileName)
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// Open decrypts the secrets file with the password and loads it into memory.
func (s *SecretStore) Open(password string) error {
	path := filepath.Join(s.dir, secretsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize {
		return fmt.Errorf("secrets file is corrupted: too short")
	}

	salt := data[:saltSize]
	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(data) < saltSize+gcm.NonceSize() {
		return fmt.Errorf("secrets file is corrupted: missing nonce")
	}

	nonce := data[saltSize : saltSize+gcm.NonceSize()]
	plain, err := gcm.Open(nil, nonce, data[saltSize+gcm.NonceSize():], nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets (wrong password?): %w", err)
	}

	secrets := make(map[string]string)
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return fmt.Errorf("failed to parse decrypted secrets: %w", err)
	}

	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()
	return nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
