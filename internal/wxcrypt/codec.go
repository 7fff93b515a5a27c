// ABOUTME: Authenticated-encryption framing for WeCom webhook payloads.
// ABOUTME: SHA-1 signatures over sorted inputs plus AES-256-CBC envelopes with PKCS#7 padding.

package wxcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// encodingKeyLength is the exact length the platform issues for the
	// EncodingAESKey credential. Any other length is a configuration error.
	encodingKeyLength = 43

	// padBlockSize is the PKCS#7 padding boundary the platform uses.
	// Note this is 32 bytes, twice the AES block size.
	padBlockSize = 32

	// envelopeHeaderLen is 16 random bytes plus a 4-byte big-endian length.
	envelopeHeaderLen = 20
)

var (
	// ErrInvalidKey indicates the encoding key is not usable. Construction
	// fails loudly rather than producing silently-wrong ciphertext.
	ErrInvalidKey = errors.New("wxcrypt: encoding key must be exactly 43 characters")

	// ErrDecrypt indicates tampered, corrupted, or mis-keyed ciphertext.
	ErrDecrypt = errors.New("wxcrypt: decrypt failed")
)

// Codec signs and encrypts/decrypts webhook payloads exchanged with the
// platform. The IV is fixed to the first 16 bytes of the key; message
// confidentiality relies on the 16 random prefix bytes inside each
// plaintext, which is what the platform's framing specifies.
type Codec struct {
	token string
	key   []byte
	iv    []byte
}

// New creates a Codec from the callback token and the 43-character
// EncodingAESKey issued by the platform.
func New(token, encodingAESKey string) (*Codec, error) {
	if len(encodingAESKey) != encodingKeyLength {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKey, len(encodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: decodes to %d bytes, want 32", ErrInvalidKey, len(key))
	}
	return &Codec{token: token, key: key, iv: key[:aes.BlockSize]}, nil
}

// Signature computes the lowercase hex SHA-1 signature over the token,
// timestamp, nonce, and payload. The four inputs are sorted
// lexicographically before hashing, so the result depends only on the
// multiset of values.
func (c *Codec) Signature(timestamp, nonce, payload string) string {
	parts := []string{c.token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a platform-provided signature in constant time.
func (c *Codec) VerifySignature(signature, timestamp, nonce, payload string) bool {
	expected := c.Signature(timestamp, nonce, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Decrypt base64-decodes and decrypts a ciphertext, validates its PKCS#7
// padding, and extracts the payload from the platform's envelope layout:
// 16 random bytes, a 4-byte big-endian payload length, the payload, and
// trailing bytes that are ignored. All failures wrap ErrDecrypt.
func (c *Codec) Decrypt(cipherTextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherTextB64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a block multiple", ErrDecrypt, len(raw))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("wxcrypt: creating cipher: %w", err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, raw)

	plain, err = stripPadding(plain)
	if err != nil {
		return "", err
	}
	if len(plain) < envelopeHeaderLen {
		return "", fmt.Errorf("%w: plaintext shorter than envelope header", ErrDecrypt)
	}

	msgLen := binary.BigEndian.Uint32(plain[16:envelopeHeaderLen])
	if int(msgLen) > len(plain)-envelopeHeaderLen {
		return "", fmt.Errorf("%w: declared length %d exceeds %d remaining bytes",
			ErrDecrypt, msgLen, len(plain)-envelopeHeaderLen)
	}
	return string(plain[envelopeHeaderLen : envelopeHeaderLen+int(msgLen)]), nil
}

// Encrypt wraps a plaintext in the platform envelope (16 random bytes plus
// a 4-byte big-endian length), pads to the 32-byte boundary, CBC-encrypts,
// and base64-encodes the result.
func (c *Codec) Encrypt(plainText string) (string, error) {
	msg := []byte(plainText)

	buf := make([]byte, 0, envelopeHeaderLen+len(msg)+padBlockSize)
	prefix := make([]byte, 16)
	if _, err := rand.Read(prefix); err != nil {
		return "", fmt.Errorf("wxcrypt: random prefix: %w", err)
	}
	buf = append(buf, prefix...)

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(msg)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, msg...)
	buf = applyPadding(buf)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("wxcrypt: creating cipher: %w", err)
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// applyPadding appends PKCS#7 padding up to the 32-byte block boundary.
// A full block of padding is added when the input is already aligned.
func applyPadding(buf []byte) []byte {
	pad := padBlockSize - len(buf)%padBlockSize
	if pad == 0 {
		pad = padBlockSize
	}
	for i := 0; i < pad; i++ {
		buf = append(buf, byte(pad))
	}
	return buf
}

// stripPadding removes PKCS#7 padding, requiring every pad byte to equal
// the pad length. Inconsistent padding is a tamper or wrong-key signal.
func stripPadding(buf []byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecrypt)
	}
	pad := int(buf[len(buf)-1])
	if pad < 1 || pad > padBlockSize || pad > len(buf) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecrypt, pad)
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrDecrypt)
		}
	}
	return buf[:len(buf)-pad], nil
}
