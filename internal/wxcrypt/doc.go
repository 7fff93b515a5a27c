// Package wxcrypt implements the WeCom callback crypto scheme: SHA-1
// message signatures over the sorted (token, timestamp, nonce, payload)
// multiset, and AES-256-CBC envelopes keyed by the 43-character
// EncodingAESKey.
//
// The wire format is fixed by the platform and must be preserved exactly:
//
//   - key = base64(EncodingAESKey + "="), 32 bytes
//   - IV  = key[:16] (static; per-message randomness comes from the
//     16-byte random prefix inside each plaintext)
//   - plaintext layout: [16 random bytes][4-byte BE length][payload][ignored]
//   - PKCS#7 padding to a 32-byte boundary, validated byte-for-byte
//
// Construction fails with ErrInvalidKey for malformed key material;
// all decryption failures wrap ErrDecrypt.
package wxcrypt
