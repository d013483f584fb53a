// Package crypto implements Nado's EIP-712 order and cancellation signing,
// sub-account encoding, and password-sealed private key files.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keystoreVersion  = 2
)

// sealedKey is the on-disk keyfile. The wallet address is stored in clear
// and bound to the ciphertext as GCM additional data, so a keyfile can be
// identified without the password and cannot be relabelled.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource lists where a signing key may come from. A raw key wins over a
// keyfile.
type KeySource struct {
	RawPrivateKey string
	KeyfilePath   string
	Password      string
}

// SealKey encrypts a hex private key with PBKDF2-HMAC-SHA256 and
// AES-256-GCM and returns the JSON keyfile.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keystore: password must not be empty")
	}
	keyBytes, addr, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keystore: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keystore: generating nonce: %w", err)
	}

	out := sealedKey{
		Version:    keystoreVersion,
		Address:    strings.ToLower(addr.Hex()),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, addr.Bytes())),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey decrypts a keyfile produced by SealKey and returns the private key
// as hex without the 0x prefix.
func OpenKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/keystore: password must not be empty")
	}
	var stored sealedKey
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("crypto/keystore: parsing keyfile: %w", err)
	}
	if stored.Version != keystoreVersion {
		return "", fmt.Errorf("crypto/keystore: unsupported version %d", stored.Version)
	}
	if !common.IsHexAddress(stored.Address) {
		return "", fmt.Errorf("crypto/keystore: bad address %q", stored.Address)
	}
	addr := common.HexToAddress(stored.Address)

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, addr.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: decryption failed (wrong password?): %w", err)
	}

	keyHex := hex.EncodeToString(plaintext)
	if _, got, err := parsePrivateKey(keyHex); err != nil || got != addr {
		return "", errors.New("crypto/keystore: key does not match keyfile address")
	}
	return keyHex, nil
}

// ResolveKey returns the hex private key from src.
func ResolveKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		k := strings.TrimPrefix(strings.TrimSpace(src.RawPrivateKey), "0x")
		if _, _, err := parsePrivateKey(k); err != nil {
			return "", err
		}
		return k, nil
	}
	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("crypto/keystore: reading keyfile: %w", err)
		}
		return OpenKey(data, src.Password)
	}
	return "", errors.New("crypto/keystore: no private key configured (set wallet.private_key or wallet.keyfile_path)")
}

func parsePrivateKey(privateKeyHex string) ([]byte, common.Address, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto/keystore: invalid private key hex: %w", err)
	}
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto/keystore: invalid private key: %w", err)
	}
	return keyBytes, ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: creating GCM: %w", err)
	}
	return gcm, nil
}
