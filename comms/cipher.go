package comms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// nonceSize is the 96-bit GCM standard nonce.
const nonceSize = 12

// NewSessionKey generates a fresh 128-bit AES-GCM key, as the boss does once
// per remote doer before transporting it over the pre-authenticated shell
// channel (spec.md §4.1, §4.4). There is no AEAD library in the retrieval
// pack (none of the example repos import one); AES-GCM is built directly on
// crypto/aes + crypto/cipher, the standard library's own AEAD construction,
// rather than adding an unrelated-to-the-corpus dependency for it. See
// DESIGN.md.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generating session key")
	}
	return key, nil
}

// nonceCounter is a monotonically incrementing 96-bit counter dedicated to
// one direction of one session. spec.md §4.1 requires two independent
// counters, one per direction, each starting at zero, and a fatal abort on
// reuse or overflow; encoding the counter as the low 96 bits of a
// little-endian u128 is realized here as two uint64 words since Go has no
// native 128-bit integer.
type nonceCounter struct {
	lo, hi uint64
}

// next returns the current counter value encoded as a 12-byte nonce, then
// increments the counter. It returns an error instead of ever reusing or
// wrapping a value.
func (c *nonceCounter) next() ([]byte, error) {
	if c.lo == math.MaxUint64 && c.hi == math.MaxUint32 {
		return nil, errors.New("nonce counter exhausted")
	}
	var nonce [nonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], c.lo)
	binary.LittleEndian.PutUint32(nonce[8:12], uint32(c.hi))
	c.lo++
	if c.lo == 0 {
		c.hi++
	}
	return nonce[:], nil
}

// sessionCipher wraps one AES-128-GCM key with the nonce counter for the
// direction a Session seals. The other direction's counter is driven by
// the peer's sealing side; the opening side here is sessionOpener, which
// reads the nonce embedded with each frame and rejects any that does not
// strictly increase — see seal and sessionOpener.open below.
type sessionCipher struct {
	aead    cipher.AEAD
	sendCtr nonceCounter
}

func newSessionCipher(key []byte) (*sessionCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "constructing AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "constructing GCM AEAD")
	}
	return &sessionCipher{aead: aead}, nil
}

// seal encrypts plaintext under the next value of this cipher's own send
// counter, returning nonce||ciphertext||tag ready to frame.
func (c *sessionCipher) seal(plaintext []byte) ([]byte, error) {
	nonce, err := c.sendCtr.next()
	if err != nil {
		return nil, err
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// open decrypts a nonce||ciphertext||tag frame produced by the peer's seal,
// tracking the highest nonce counter value seen so far and rejecting any
// frame whose embedded counter does not strictly increase — this is what
// makes nonce reuse within a session a detectable, fatal protocol error on
// the receiving side, not just a property the sender promises to uphold.
type sessionOpener struct {
	aead   cipher.AEAD
	lastLo uint64
	lastHi uint64
	seenOne bool
}

func newSessionOpener(key []byte) (*sessionOpener, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "constructing AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "constructing GCM AEAD")
	}
	return &sessionOpener{aead: aead}, nil
}

func (o *sessionOpener) open(frame []byte) ([]byte, error) {
	if len(frame) < nonceSize {
		return nil, errors.New("frame shorter than nonce")
	}
	nonce := frame[:nonceSize]
	lo := binary.LittleEndian.Uint64(nonce[0:8])
	hi := uint64(binary.LittleEndian.Uint32(nonce[8:12]))
	if o.seenOne && (hi < o.lastHi || (hi == o.lastHi && lo <= o.lastLo)) {
		return nil, errors.New("nonce reuse or reordering detected")
	}
	plaintext, err := o.aead.Open(nil, nonce, frame[nonceSize:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting frame")
	}
	o.lastLo, o.lastHi, o.seenOne = lo, hi, true
	return plaintext, nil
}
