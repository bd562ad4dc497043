// Package codec seals and opens WebSocket payloads. The wire format is
// AES-256-CBC over the JSON plaintext, hex encoded, with the key and IV
// derived from a shared passphrase using the OpenSSL EVP_BytesToKey scheme
// (MD5, no salt) so that existing clients interoperate unchanged. The rest
// of the server only ever sees decrypted bytes.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

const (
	keyLen = 32 // AES-256
	ivLen  = aes.BlockSize
)

// Codec encrypts outbound payloads and decrypts inbound ones.
type Codec interface {
	// Seal encrypts plaintext into the wire representation.
	Seal(plaintext []byte) ([]byte, error)
	// Open decrypts a wire payload back into plaintext.
	Open(payload []byte) ([]byte, error)
}

// AESCodec implements Codec with AES-256-CBC and hex transport encoding.
type AESCodec struct {
	block cipher.Block
	iv    []byte
}

// NewAESCodec derives the cipher key and IV from the passphrase and returns
// a ready codec. The same passphrase must be configured on every peer.
func NewAESCodec(passphrase string) (*AESCodec, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("codec: empty passphrase")
	}
	key, iv := bytesToKey([]byte(passphrase))
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: cipher init: %w", err)
	}
	return &AESCodec{block: block, iv: iv}, nil
}

// Seal encrypts plaintext with PKCS#7 padding and returns the hex-encoded
// ciphertext.
func (c *AESCodec) Seal(plaintext []byte) ([]byte, error) {
	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)

	enc := make([]byte, hex.EncodedLen(len(out)))
	hex.Encode(enc, out)
	return enc, nil
}

// Open decodes a hex payload, decrypts it, and strips the padding.
func (c *AESCodec) Open(payload []byte) ([]byte, error) {
	raw := make([]byte, hex.DecodedLen(len(payload)))
	n, err := hex.Decode(raw, payload)
	if err != nil {
		return nil, fmt.Errorf("codec: hex decode: %w", err)
	}
	raw = raw[:n]
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("codec: ciphertext length %d not a block multiple", len(raw))
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)
	return unpad(out)
}

// Plain is a no-op Codec for development and tests: payloads pass through
// untouched.
type Plain struct{}

// Seal returns the plaintext unchanged.
func (Plain) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Open returns the payload unchanged.
func (Plain) Open(payload []byte) ([]byte, error) { return payload, nil }

// bytesToKey implements OpenSSL EVP_BytesToKey with MD5 and no salt: hash
// rounds are concatenated until keyLen+ivLen bytes are available.
func bytesToKey(passphrase []byte) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

// pad applies PKCS#7 padding up to the AES block size.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips and verifies PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("codec: empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("codec: bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("codec: bad padding")
		}
	}
	return data[:len(data)-n], nil
}
