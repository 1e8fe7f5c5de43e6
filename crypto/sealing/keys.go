package sealing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

const (
	// RSAKeyBits is the modulus size of every signing and wrapping keypair.
	RSAKeyBits = 2048
	// SymmetricKeySize is the AES-256 key size in bytes.
	SymmetricKeySize = 32
)

// StationKeys holds the key material a polling station needs to seal ballots:
// an RSA signing keypair and the AES key its payloads are encrypted under.
type StationKeys struct {
	SigningKey   *rsa.PrivateKey
	SymmetricKey []byte
}

// GenerateStationKeys creates fresh station key material. Failure here means
// the cryptographic provider is unusable and the station cannot come up.
func GenerateStationKeys() (*StationKeys, error) {
	signingKey, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	symmetricKey := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(symmetricKey); err != nil {
		return nil, fmt.Errorf("generate symmetric key: %w", err)
	}
	return &StationKeys{
		SigningKey:   signingKey,
		SymmetricKey: symmetricKey,
	}, nil
}

// TallierKeys holds the tallier RSA keypair used to unwrap per-station AES
// keys. Its public half is published to the stations.
type TallierKeys struct {
	Key *rsa.PrivateKey
}

// GenerateTallierKeys creates a fresh tallier keypair.
func GenerateTallierKeys() (*TallierKeys, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate tallier keypair: %w", err)
	}
	return &TallierKeys{Key: key}, nil
}

// PublicKeyBase64 returns the tallier public key as base64 X.509 SPKI.
func (tk *TallierKeys) PublicKeyBase64() (string, error) {
	return MarshalPublicKeyBase64(&tk.Key.PublicKey)
}

// UnwrapSymmetricKey decrypts a station AES key that was wrapped under the
// tallier public key with RSA PKCS#1 v1.5.
func (tk *TallierKeys) UnwrapSymmetricKey(wrappedB64 string) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	key, err := rsa.DecryptPKCS1v15(rand.Reader, tk.Key, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap symmetric key: %w", err)
	}
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("unwrapped key has %d bytes, want %d", len(key), SymmetricKeySize)
	}
	return key, nil
}

// MarshalPublicKeyBase64 encodes an RSA public key as base64 X.509
// SubjectPublicKeyInfo.
func MarshalPublicKeyBase64(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePublicKeyBase64 decodes a base64 X.509 SubjectPublicKeyInfo payload
// into an RSA public key.
func ParsePublicKeyBase64(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return ParsePublicKeyDER(der)
}

// ParsePublicKeyDER decodes an X.509 SubjectPublicKeyInfo DER payload into an
// RSA public key.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", pub)
	}
	return rsaPub, nil
}

// MarshalPublicKeyDER encodes an RSA public key as X.509 SPKI DER bytes, the
// form the tallier key registry persists.
func MarshalPublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}
