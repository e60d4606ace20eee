package lwm2m

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
)

// tokenGenerator produces unpredictable CoAP tokens and message IDs by
// stretching a fixed random seed through HKDF-SHA256, reseeding the
// underlying reader once it is exhausted. Using HKDF rather than reading
// crypto/rand for every token keeps a single random draw (taken once, at
// construction) doing the work of many, while still giving each token
// the unlinkability CoAP depends on against off-path response spoofing.
type tokenGenerator struct {
	reader io.Reader
	seed   [32]byte
	salt   uint64
}

func newTokenGenerator(seed [32]byte) *tokenGenerator {
	g := &tokenGenerator{seed: seed}
	g.reseed()
	return g
}

func (g *tokenGenerator) reseed() {
	var saltBuf [8]byte
	binary.BigEndian.PutUint64(saltBuf[:], g.salt)
	g.salt++
	g.reader = hkdf.New(sha256.New, g.seed[:], saltBuf[:], []byte("lwm2m-client-go token stream"))
}

func (g *tokenGenerator) next(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.reader, buf); err != nil {
		g.reseed()
		io.ReadFull(g.reader, buf)
	}
	return buf
}

// NextToken draws a fresh 8-byte token for a new exchange.
func (g *tokenGenerator) NextToken() coap.TokenValue {
	tv, _ := coap.TokenFrom(g.next(coap.MaxTokenLen))
	return tv
}

// NextMessageID draws a fresh 16-bit message ID, matching RFC 7252's
// requirement that MIDs be "generated so that there is a low probability
// that colliding MIDs will be in use at the same time."
func (g *tokenGenerator) NextMessageID() uint16 {
	buf := g.next(2)
	return binary.BigEndian.Uint16(buf)
}
