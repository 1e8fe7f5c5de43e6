package sealing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tallierKeyFile    = "tallier_key.pem"
	stationKeyFile    = "station_signing_key.pem"
	symmetricKeyFile  = "station_symmetric.key"
	rsaPEMBlockType   = "RSA PRIVATE KEY"
	keyFilePermission = 0o600
)

// LoadOrGenerateTallierKeys loads the tallier keypair from dir, generating
// and persisting a fresh one on first run.
func LoadOrGenerateTallierKeys(dir string) (*TallierKeys, error) {
	key, err := loadOrGenerateRSAKey(filepath.Join(dir, tallierKeyFile))
	if err != nil {
		return nil, err
	}
	return &TallierKeys{Key: key}, nil
}

// LoadOrGenerateStationKeys loads the station key material from dir,
// generating and persisting fresh keys on first run. Reusing the same keys
// across restarts keeps previously sealed outbox ballots decryptable after
// re-enrolment.
func LoadOrGenerateStationKeys(dir string) (*StationKeys, error) {
	signingKey, err := loadOrGenerateRSAKey(filepath.Join(dir, stationKeyFile))
	if err != nil {
		return nil, err
	}
	symPath := filepath.Join(dir, symmetricKeyFile)
	symmetricKey, err := os.ReadFile(symPath)
	if os.IsNotExist(err) {
		symmetricKey = make([]byte, SymmetricKeySize)
		if _, err := rand.Read(symmetricKey); err != nil {
			return nil, fmt.Errorf("generate symmetric key: %w", err)
		}
		if err := os.WriteFile(symPath, symmetricKey, keyFilePermission); err != nil {
			return nil, fmt.Errorf("persist symmetric key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read symmetric key: %w", err)
	}
	if len(symmetricKey) != SymmetricKeySize {
		return nil, fmt.Errorf("symmetric key file has %d bytes, want %d",
			len(symmetricKey), SymmetricKeySize)
	}
	return &StationKeys{
		SigningKey:   signingKey,
		SymmetricKey: symmetricKey,
	}, nil
}

func loadOrGenerateRSAKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		block, _ := pem.Decode(data)
		if block == nil || block.Type != rsaPEMBlockType {
			return nil, fmt.Errorf("no %s block in %s", rsaPEMBlockType, path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", path, err)
		}
		return key, nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate keypair: %w", err)
		}
		data := pem.EncodeToMemory(&pem.Block{
			Type:  rsaPEMBlockType,
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		if err := os.WriteFile(path, data, keyFilePermission); err != nil {
			return nil, fmt.Errorf("persist private key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
}
