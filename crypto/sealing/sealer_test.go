package sealing

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/types"
)

func newTestBallot(candidate string) *types.Ballot {
	return &types.Ballot{
		ID:          uuid.New(),
		StationID:   "M01",
		EmittedAt:   time.Now().UTC().Truncate(time.Second),
		CandidateID: candidate,
	}
}

func TestSealRoundTrip(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	ballot := newTestBallot("C3")
	c.Assert(sealer.Seal(ballot), qt.IsNil)
	c.Assert(ballot.Sealed(), qt.IsTrue)

	// The sealed payload is IV plus at least one cipher block.
	c.Assert(len(ballot.SealedPayload) >= 32, qt.IsTrue)
	c.Assert(len(ballot.SealedPayload)%16, qt.Equals, 0)

	plaintext, err := DecryptCBC(keys.SymmetricKey, ballot.SealedPayload)
	c.Assert(err, qt.IsNil)
	c.Assert(string(plaintext), qt.Equals, "C3")
}

func TestSealFreshIVPerBallot(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	b1 := newTestBallot("C1")
	b2 := newTestBallot("C1")
	c.Assert(sealer.Seal(b1), qt.IsNil)
	c.Assert(sealer.Seal(b2), qt.IsNil)

	// Same plaintext, different IV, different ciphertext.
	c.Assert(b1.SealedPayload.Equal(b2.SealedPayload), qt.IsFalse)
	c.Assert([]byte(b1.SealedPayload[:16]), qt.Not(qt.DeepEquals), []byte(b2.SealedPayload[:16]))
}

func TestSealRejectsDoubleSeal(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	ballot := newTestBallot("C3")
	c.Assert(sealer.Seal(ballot), qt.IsNil)
	c.Assert(sealer.Seal(ballot), qt.IsNotNil)
}

func TestSignatureVerifies(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	ballot := newTestBallot("C3")
	c.Assert(sealer.Seal(ballot), qt.IsNil)
	c.Assert(VerifyEnvelope(&keys.SigningKey.PublicKey, ballot.EnvelopeBytes(), ballot.Signature), qt.IsTrue)
}

func TestSignatureTamperDetection(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	ballot := newTestBallot("C3")
	c.Assert(sealer.Seal(ballot), qt.IsNil)
	pub := &keys.SigningKey.PublicKey

	// Single-bit alteration of the signature.
	sig := append(types.HexBytes{}, ballot.Signature...)
	sig[0] ^= 0x01
	c.Assert(VerifyEnvelope(pub, ballot.EnvelopeBytes(), sig), qt.IsFalse)

	// Single-bit alteration of the sealed payload.
	payload := append(types.HexBytes{}, ballot.SealedPayload...)
	payload[len(payload)-1] ^= 0x01
	envelope := types.EnvelopeBytes(ballot.ID.String(), ballot.StationID, ballot.EmittedAtString(), payload)
	c.Assert(VerifyEnvelope(pub, envelope, ballot.Signature), qt.IsFalse)

	// A different station id changes the envelope.
	envelope = types.EnvelopeBytes(ballot.ID.String(), "M02", ballot.EmittedAtString(), ballot.SealedPayload)
	c.Assert(VerifyEnvelope(pub, envelope, ballot.Signature), qt.IsFalse)
}

func TestWrapUnwrapSymmetricKey(t *testing.T) {
	c := qt.New(t)
	stationKeys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	tallierKeys, err := GenerateTallierKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", stationKeys)

	tallierPub, err := tallierKeys.PublicKeyBase64()
	c.Assert(err, qt.IsNil)

	wrapped, err := sealer.WrapSymmetricKeyFor(tallierPub)
	c.Assert(err, qt.IsNil)

	unwrapped, err := tallierKeys.UnwrapSymmetricKey(wrapped)
	c.Assert(err, qt.IsNil)
	c.Assert(unwrapped, qt.DeepEquals, stationKeys.SymmetricKey)
}

func TestPublicKeyBase64RoundTrip(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	sealer := NewSealer("M01", keys)

	b64, err := sealer.PublicSigningKeyBase64()
	c.Assert(err, qt.IsNil)
	pub, err := ParsePublicKeyBase64(b64)
	c.Assert(err, qt.IsNil)
	c.Assert(pub.Equal(&keys.SigningKey.PublicKey), qt.IsTrue)
}

func TestDecryptCBCRejectsGarbage(t *testing.T) {
	c := qt.New(t)
	keys, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)

	// Too short.
	_, err = DecryptCBC(keys.SymmetricKey, make([]byte, 16))
	c.Assert(err, qt.IsNotNil)

	// Not block aligned.
	_, err = DecryptCBC(keys.SymmetricKey, make([]byte, 33))
	c.Assert(err, qt.IsNotNil)

	// A wrong key never recovers the plaintext: either the padding check
	// fails or the bytes come out garbled.
	sealed, err := EncryptCBC(keys.SymmetricKey, []byte("C3"))
	c.Assert(err, qt.IsNil)
	other, err := GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	plain, err := DecryptCBC(other.SymmetricKey, sealed)
	if err == nil {
		c.Assert(string(plain), qt.Not(qt.Equals), "C3")
	}
}

func TestPKCS7Padding(t *testing.T) {
	c := qt.New(t)
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		c.Assert(len(padded)%16, qt.Equals, 0)
		unpadded, err := pkcs7Unpad(padded, 16)
		c.Assert(err, qt.IsNil)
		c.Assert(unpadded, qt.DeepEquals, data)
	}
}

func TestLoadOrGenerateKeysPersist(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	station1, err := LoadOrGenerateStationKeys(dir)
	c.Assert(err, qt.IsNil)
	station2, err := LoadOrGenerateStationKeys(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(station2.SymmetricKey, qt.DeepEquals, station1.SymmetricKey)
	c.Assert(station2.SigningKey.Equal(station1.SigningKey), qt.IsTrue)

	tallier1, err := LoadOrGenerateTallierKeys(dir)
	c.Assert(err, qt.IsNil)
	tallier2, err := LoadOrGenerateTallierKeys(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(tallier2.Key.Equal(tallier1.Key), qt.IsTrue)
}
