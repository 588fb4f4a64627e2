package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/s3db/s3db/internal/schema"
)

// SecretCipher encrypts and decrypts the attribute values a schema version
// marks TypeSecret, using AES-256-GCM with a random per-value nonce.
// Grounded on the teacher's EncryptionBackend (encryption.go), retargeted
// from whole-object encryption to per-field encryption so non-secret
// attributes remain queryable in partition indexes.
type SecretCipher struct {
	key []byte // 32 bytes for AES-256
}

// NewSecretCipher builds a cipher from a 32-byte key.
func NewSecretCipher(key []byte) (*SecretCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret cipher key must be 32 bytes, got %d", len(key))
	}
	return &SecretCipher{key: key}, nil
}

// EncryptSecrets walks the flattened document and replaces every TypeSecret
// attribute's value with a base64-encoded ciphertext. Non-secret attributes
// pass through untouched.
func (c *SecretCipher) EncryptSecrets(sv *schema.SchemaVersion, flat map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(flat))
	for path, v := range flat {
		attr, ok := sv.Attribute(path)
		if !ok || attr.Type != schema.TypeSecret {
			out[path] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("attribute %q is declared secret but value is not a string", path)
		}
		enc, err := c.encrypt([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("encrypting %q: %w", path, err)
		}
		out[path] = base64.StdEncoding.EncodeToString(enc)
	}
	return out, nil
}

// DecryptSecrets reverses EncryptSecrets. A field that fails to decode or
// decrypt (corrupt ciphertext, wrong key) is reported in failed rather than
// aborting the whole document; its value is left as the raw stored
// ciphertext so the caller still gets every other field back
// (spec.md §4.2 step 6, §7 DecryptionFailed: "never aborts batch").
func (c *SecretCipher) DecryptSecrets(sv *schema.SchemaVersion, flat map[string]interface{}) (out map[string]interface{}, failed []string, err error) {
	out = make(map[string]interface{}, len(flat))
	for path, v := range flat {
		attr, ok := sv.Attribute(path)
		if !ok || attr.Type != schema.TypeSecret {
			out[path] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			out[path] = v
			failed = append(failed, path)
			continue
		}
		raw, decErr := base64.StdEncoding.DecodeString(s)
		if decErr != nil {
			out[path] = v
			failed = append(failed, path)
			continue
		}
		dec, decErr := c.decrypt(raw)
		if decErr != nil {
			out[path] = v
			failed = append(failed, path)
			continue
		}
		out[path] = string(dec)
	}
	sort.Strings(failed)
	return out, failed, nil
}

func (c *SecretCipher) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
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
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *SecretCipher) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes, need at least %d", len(ciphertext), nonceSize)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, body, nil)
}
