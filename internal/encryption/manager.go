// Package encryption protects the lead context blob at rest with envelope
// encryption: each blob gets its own AES-256-GCM data key, and the data key is
// wrapped by KMS in production or carried base64-encoded in local mode.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// envelope is the stored form of an encrypted blob.
type envelope struct {
	Version string `json:"v"`
	KeyID   string `json:"key_id"`
	DEK     string `json:"dek"`
	Nonce   string `json:"nonce"`
	CT      string `json:"ct"`
}

const (
	envelopeVersion = "1"
	localKeyID      = "local"
)

// Manager encrypts and decrypts small blobs. With a nil KMS client it runs in
// local mode: the data key travels base64-encoded inside the envelope, which
// protects nothing against a storage-plus-envelope compromise but keeps the
// record format identical between dev and prod.
type Manager struct {
	kmsClient *kms.Client
	keyID     string
	dekCache  sync.Map // wrapped DEK (string) -> plaintext key ([]byte)
}

func NewManager(kmsClient *kms.Client, keyID string) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		keyID:     keyID,
	}
}

// Encrypt seals plaintext into an envelope string suitable for storage.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	key, wrapped, keyID, err := m.newDataKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ct := gcm.Seal(nil, nonce, plaintext, nil)

	env := envelope{
		Version: envelopeVersion,
		KeyID:   keyID,
		DEK:     base64.StdEncoding.EncodeToString(wrapped),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		CT:      base64.StdEncoding.EncodeToString(ct),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (m *Manager) Decrypt(ctx context.Context, blob string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return nil, fmt.Errorf("%w: bad envelope: %v", ErrDecryptionFailed, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %q", ErrDecryptionFailed, env.Version)
	}

	wrapped, err := base64.StdEncoding.DecodeString(env.DEK)
	if err != nil {
		return nil, fmt.Errorf("%w: bad dek encoding: %v", ErrDecryptionFailed, err)
	}

	key, err := m.unwrapDataKey(ctx, env.KeyID, env.DEK, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding: %v", ErrDecryptionFailed, err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ClearCache drops cached plaintext data keys.
func (m *Manager) ClearCache() {
	m.dekCache.Range(func(k, _ interface{}) bool {
		m.dekCache.Delete(k)
		return true
	})
}

func (m *Manager) newDataKey(ctx context.Context) (key, wrapped []byte, keyID string, err error) {
	if m.kmsClient == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, "", err
		}
		wrapped = []byte(base64.StdEncoding.EncodeToString(key))
		return key, wrapped, localKeyID, nil
	}

	out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("kms generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, m.keyID, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, keyID, cacheKey string, wrapped []byte) ([]byte, error) {
	if keyID == localKeyID {
		return base64.StdEncoding.DecodeString(string(wrapped))
	}
	if m.kmsClient == nil {
		return nil, fmt.Errorf("envelope requires KMS key %s but KMS is disabled", keyID)
	}

	if cached, ok := m.dekCache.Load(cacheKey); ok {
		return cached.([]byte), nil
	}

	out, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt data key: %w", err)
	}
	m.dekCache.Store(cacheKey, out.Plaintext)
	return out.Plaintext, nil
}
