package eventsourcing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// NewZstdCompressor constructs a zstd backed Compressor
func NewZstdCompressor() *ZstdCompressor {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)

	return &ZstdCompressor{
		enc: enc,
		dec: dec,
	}
}

// ZstdCompressor provides the default Compressor implementation
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Compress compresses the payload
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress decompresses the payload
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodingFailed, err)
	}

	return out, nil
}

// NewChaCha20Poly1305Cipher constructs an XChaCha20-Poly1305 backed Cipher.
// The key must be chacha20poly1305.KeySize (32) bytes long
func NewChaCha20Poly1305Cipher(key []byte) (*AEADCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return &AEADCipher{aead: aead}, nil
}

// NewAESGCMCipher constructs an AES-GCM backed Cipher.
// The key must be 16, 24 or 32 bytes long
func NewAESGCMCipher(key []byte) (*AEADCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AEADCipher{aead: aead}, nil
}

// AEADCipher implements Cipher on top of any AEAD construction.
// A random nonce is generated per payload and prepended to the ciphertext
type AEADCipher struct {
	aead cipher.AEAD
}

// Encrypt seals the payload
func (c *AEADCipher) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())

	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens the payload. Any single byte corruption of the ciphertext
// fails authentication and yields ErrIntegrityCheckFailed
func (c *AEADCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrIntegrityCheckFailed)
	}

	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]

	out, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityCheckFailed, err)
	}

	return out, nil
}
