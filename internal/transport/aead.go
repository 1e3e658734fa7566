package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// nonceSize is the standard GCM nonce size: a 96-bit counter (§4.3).
const nonceSize = 12

// tagSize is the AES-256-GCM authentication tag size (§4.3: "tag(16)").
const tagSize = 16

// sealer wraps an AEAD with a monotonically incrementing 96-bit big-endian
// counter nonce, initialized from a fresh random value at construction time
// per §4.3 ("the 12-byte IV ... is a monotonically incremented counter
// initialized from a fresh random value at session start"). A sealer is
// single-direction: the initiator and the responder each derive their own
// key (via deriveDirectionalKey) and keep an independent counter, so the
// same pre-shared key never produces the same (key, nonce) pair from both
// ends of a connection (§4.3 doesn't specify how directions are kept
// disjoint; this is the resolution recorded in DESIGN.md). The IV for every
// sealed frame travels on the wire (conn.go), so randomizing the starting
// value -- rather than always starting at zero -- is what keeps two
// connections sharing one PSK from ever sealing with the same (key, nonce)
// pair (§8 "Nonce uniqueness").
type sealer struct {
	aead cipher.AEAD
	iv   [nonceSize]byte
}

func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindCrypto, err, "constructing cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindCrypto, err, "constructing AEAD")
	}
	s := &sealer{aead: aead}
	if _, err := rand.Read(s.iv[:]); err != nil {
		return nil, xerrors.Wrap(xerrors.KindCrypto, err, "generating initial nonce")
	}
	return s, nil
}

// nextNonce returns the current IV, then increments it for the next call.
// Incrementing treats the IV as a 96-bit big-endian counter: increment from
// the last byte, carrying toward the first (§4.3).
func (s *sealer) nextNonce() []byte {
	n := make([]byte, nonceSize)
	copy(n, s.iv[:])
	for i := nonceSize - 1; i >= 0; i-- {
		s.iv[i]++
		if s.iv[i] != 0 {
			break
		}
	}
	return n
}

// seal encrypts plaintext under the sealer's next nonce, authenticating no
// additional data. It returns the nonce used (so the caller can transmit it,
// per §4.3's on-wire iv(12) field), the ciphertext, and the authentication
// tag, split out of Go's combined Seal output so the caller can lay them out
// on the wire in the spec's tag-then-iv-then-ciphertext order.
func (s *sealer) seal(plaintext []byte) (nonce, ciphertext, tag []byte) {
	nonce = s.nextNonce()
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize
	return nonce, sealed[:split], sealed[split:]
}

// open authenticates and decrypts a frame sealed with seal, given the nonce
// and tag as transmitted on the wire.
func (s *sealer) open(nonce, ciphertext, tag []byte) ([]byte, error) {
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindCrypto, err, "authenticating frame")
	}
	return plaintext, nil
}

// deriveDirectionalKey folds role into psk via SHA-256 so that the two ends
// of a connection, sharing one pre-shared key, end up with distinct
// encrypt/decrypt keys for their respective directions. role is a single
// constant byte ("initiator-write" vs "responder-write").
func deriveDirectionalKey(psk []byte, role byte) []byte {
	h := sha256.New()
	h.Write(psk)
	h.Write([]byte{role})
	return h.Sum(nil)
}

const (
	roleInitiatorWrite byte = 0
	roleResponderWrite byte = 1
)
