// Package keys loads venue API credentials from key files. Files are either
// plain text (one field per line: key, secret, optional passphrase) or an
// encrypted JSON blob produced by Encrypt, using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM authenticated encryption.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// Credentials is the key material for one venue's private API.
type Credentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

// encryptedKeyJSON is the on-disk format for an encrypted credential file.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Load reads credentials from path. A non-empty password selects the
// encrypted format; otherwise the file is parsed as plain text lines.
func Load(path, password string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: read %s: %w", path, err)
	}
	if password != "" {
		return decrypt(data, password)
	}
	return parsePlain(data)
}

// parsePlain reads the line-based key file format: API key on the first
// line, secret on the second, optional passphrase on the third.
func parsePlain(data []byte) (Credentials, error) {
	var fields []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			fields = append(fields, line)
		}
	}
	if len(fields) < 2 {
		return Credentials{}, errors.New("keys: key file needs at least api key and secret lines")
	}
	creds := Credentials{APIKey: fields[0], APISecret: fields[1]}
	if len(fields) > 2 {
		creds.Passphrase = fields[2]
	}
	return creds, nil
}

// Encrypt serializes creds and encrypts them with password, returning the
// JSON blob suitable for writing to disk.
func Encrypt(creds Credentials, password string) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("keys: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: generate nonce: %w", err)
	}

	blob := encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}
	return json.Marshal(blob)
}

// decrypt reverses Encrypt.
func decrypt(data []byte, password string) (Credentials, error) {
	var blob encryptedKeyJSON
	if err := json.Unmarshal(data, &blob); err != nil {
		return Credentials{}, fmt.Errorf("keys: parse encrypted file: %w", err)
	}
	if blob.Version != currentVersion {
		return Credentials{}, fmt.Errorf("keys: unsupported key file version %d", blob.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: decode ciphertext: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, errors.New("keys: decryption failed (wrong password or corrupted file)")
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("keys: parse decrypted credentials: %w", err)
	}
	return creds, nil
}
