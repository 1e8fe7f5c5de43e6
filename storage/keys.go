package storage

import (
	"crypto/rsa"

	"github.com/recuento/recuento-node/crypto/sealing"
)

// SetStationSymmetricKey installs (or replaces) the AES key for a station.
func (s *Storage) SetStationSymmetricKey(stationID string, key []byte) error {
	return s.setRaw(symmetricKeyPrefix, []byte(stationID), key)
}

// StationSymmetricKey retrieves the AES key for a station.
func (s *Storage) StationSymmetricKey(stationID string) ([]byte, error) {
	return s.getRaw(symmetricKeyPrefix, []byte(stationID))
}

// SetStationSigningKey installs (or replaces) the RSA public signing key for
// a station, stored as X.509 SPKI DER. Replacement policy is latest wins.
func (s *Storage) SetStationSigningKey(stationID string, pub *rsa.PublicKey) error {
	der, err := sealing.MarshalPublicKeyDER(pub)
	if err != nil {
		return err
	}
	if err := s.setRaw(signingKeyPrefix, []byte(stationID), der); err != nil {
		return err
	}
	s.signingKeyCache.Remove(stationID)
	return nil
}

// StationSigningKey retrieves the parsed RSA public key for a station. Parsed
// keys are cached.
func (s *Storage) StationSigningKey(stationID string) (*rsa.PublicKey, error) {
	if cached, ok := s.signingKeyCache.Get(stationID); ok {
		return cached.(*rsa.PublicKey), nil
	}
	der, err := s.getRaw(signingKeyPrefix, []byte(stationID))
	if err != nil {
		return nil, err
	}
	pub, err := sealing.ParsePublicKeyDER(der)
	if err != nil {
		return nil, err
	}
	s.signingKeyCache.Add(stationID, pub)
	return pub, nil
}

// HasStationSigningKey reports whether a signing key is enrolled for the
// station.
func (s *Storage) HasStationSigningKey(stationID string) bool {
	if _, ok := s.signingKeyCache.Get(stationID); ok {
		return true
	}
	_, err := s.getRaw(signingKeyPrefix, []byte(stationID))
	return err == nil
}
