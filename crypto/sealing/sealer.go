// Package sealing implements the ballot envelope cryptography: AES-256-CBC
// payload sealing with PKCS#7 padding, RSA PKCS#1 v1.5 signatures over the
// canonical envelope bytes, and RSA key wrapping for delivering the station
// AES key to the tallier.
package sealing

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/recuento/recuento-node/types"
)

// Sealer turns plaintext ballots into sealed, signed wire records for one
// polling station.
type Sealer struct {
	stationID string
	keys      *StationKeys
}

// NewSealer returns a Sealer for the given station.
func NewSealer(stationID string, keys *StationKeys) *Sealer {
	return &Sealer{
		stationID: stationID,
		keys:      keys,
	}
}

// StationID returns the station this sealer signs for.
func (s *Sealer) StationID() string {
	return s.stationID
}

// Seal populates the ballot SealedPayload and Signature. The ballot must not
// be already sealed; the station id of the ballot is forced to the sealer's.
func (s *Sealer) Seal(ballot *types.Ballot) error {
	if ballot.Sealed() {
		return fmt.Errorf("ballot %s is already sealed", ballot.ID)
	}
	ballot.StationID = s.stationID
	sealed, err := EncryptCBC(s.keys.SymmetricKey, []byte(ballot.CandidateID))
	if err != nil {
		return fmt.Errorf("seal ballot %s: %w", ballot.ID, err)
	}
	ballot.SealedPayload = sealed
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.keys.SigningKey,
		crypto.SHA256, envelopeDigest(ballot.EnvelopeBytes()))
	if err != nil {
		return fmt.Errorf("sign ballot %s: %w", ballot.ID, err)
	}
	ballot.Signature = signature
	return nil
}

// PublicSigningKeyBase64 returns the station signing public key as base64
// X.509 SPKI, ready for enrolment at the tallier.
func (s *Sealer) PublicSigningKeyBase64() (string, error) {
	return MarshalPublicKeyBase64(&s.keys.SigningKey.PublicKey)
}

// WrapSymmetricKeyFor encrypts the station AES key under the tallier public
// key (RSA PKCS#1 v1.5) and returns it base64 encoded.
func (s *Sealer) WrapSymmetricKeyFor(tallierPublicKeyB64 string) (string, error) {
	pub, err := ParsePublicKeyBase64(tallierPublicKeyB64)
	if err != nil {
		return "", err
	}
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, pub, s.keys.SymmetricKey)
	if err != nil {
		return "", fmt.Errorf("wrap symmetric key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// VerifyEnvelope checks an RSA PKCS#1 v1.5 SHA-256 signature over the
// canonical envelope bytes.
func VerifyEnvelope(pub *rsa.PublicKey, envelope, signature []byte) bool {
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, envelopeDigest(envelope), signature) == nil
}

// EncryptCBC encrypts plaintext with AES-256-CBC under key, using a fresh
// random IV which is prepended to the ciphertext.
func EncryptCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// DecryptCBC reverses EncryptCBC: the first 16 bytes of sealed are the IV,
// the remainder the ciphertext.
func DecryptCBC(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	if len(sealed) < 2*aes.BlockSize || len(sealed)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("sealed payload has invalid length %d", len(sealed))
	}
	iv, ciphertext := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func envelopeDigest(envelope []byte) []byte {
	digest := sha256.Sum256(envelope)
	return digest[:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padLen], nil
}
