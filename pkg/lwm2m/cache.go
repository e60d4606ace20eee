package lwm2m

import (
	"time"

	"github.com/golang/snappy"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
)

// CacheResult classifies a response-cache lookup, per §4.3's exchange
// engine contract: a duplicate confirmable request is never re-executed;
// a hit on the most recent exchange is answered from cache, a hit on an
// older still-live one is dropped without a response.
type CacheResult uint8

const (
	CacheMiss CacheResult = iota
	CacheHitRecent
	CacheHitNonRecent
)

// cacheEntry is one cached exchange outcome, keyed by the request's
// 16-bit message id (§4.3: "Keyed by the 16-bit message id"), retaining
// the echoed token so a HIT_RECENT reply can be replayed byte-identically.
type cacheEntry struct {
	valid      bool
	msgID      uint16
	token      coap.TokenValue
	code       coap.Code
	payload    []byte // snappy-compressed when this is the "recent" slot
	compressed bool
	expiresAt  time.Time
}

// ResponseCache holds the most recent exchange's response plus a fixed
// ring of N-1 older ones, expiring entries after EXCHANGE_LIFETIME
// (RFC 7252 §4.5: "the server... MUST be prepared to receive a duplicate
// of the request... until EXCHANGE_LIFETIME has elapsed"). The single
// "recent" slot is kept snappy-compressed since it is by far the
// hottest entry and reused the most times before eviction; the
// historical ring favors lookup simplicity over compression.
type ResponseCache struct {
	lifetime time.Duration

	recent cacheEntry
	ring   []cacheEntry // fixed capacity = cacheEntriesNumber-1
	next   int
}

func NewResponseCache(capacity int, lifetime time.Duration) *ResponseCache {
	ringCap := capacity - 1
	if ringCap < 0 {
		ringCap = 0
	}
	return &ResponseCache{
		lifetime: lifetime,
		ring:     make([]cacheEntry, ringCap),
	}
}

// Put records the outcome of the exchange carrying msgID/token, demoting
// the previous recent entry into the historical ring (§4.3's insertion
// policy: install if the recent slot is empty, else demote-then-install).
func (c *ResponseCache) Put(msgID uint16, token coap.TokenValue, code coap.Code, payload []byte, now time.Time) {
	if c.recent.valid && len(c.ring) > 0 {
		c.ring[c.next] = c.recent
		c.next = (c.next + 1) % len(c.ring)
	}
	compressed := snappy.Encode(nil, payload)
	c.recent = cacheEntry{
		valid:      true,
		msgID:      msgID,
		token:      token,
		code:       code,
		payload:    compressed,
		compressed: true,
		expiresAt:  now.Add(c.lifetime),
	}
}

// Lookup reports whether msgID names a live cached response, and which
// tier served it. Only HIT_RECENT carries a replayable (code, token,
// payload) triple, per §4.3: a HIT_NON_RECENT duplicate is silently
// dropped rather than answered, since the peer will eventually retransmit
// again and by then it will be recent.
func (c *ResponseCache) Lookup(msgID uint16, now time.Time) (coap.Code, coap.TokenValue, []byte, CacheResult) {
	if c.recent.valid && c.recent.msgID == msgID && now.Before(c.recent.expiresAt) {
		return c.recent.code, c.recent.token, c.decode(c.recent), CacheHitRecent
	}
	for i := range c.ring {
		e := &c.ring[i]
		if e.valid && e.msgID == msgID && now.Before(e.expiresAt) {
			return 0, coap.TokenValue{}, nil, CacheHitNonRecent
		}
	}
	return 0, coap.TokenValue{}, nil, CacheMiss
}

func (c *ResponseCache) decode(e cacheEntry) []byte {
	if !e.compressed {
		return e.payload
	}
	out, err := snappy.Decode(nil, e.payload)
	if err != nil {
		return nil
	}
	return out
}

// Expire drops any entry (recent or historical) whose lifetime has
// elapsed, reclaiming its slot.
func (c *ResponseCache) Expire(now time.Time) {
	if c.recent.valid && !now.Before(c.recent.expiresAt) {
		c.recent = cacheEntry{}
	}
	for i := range c.ring {
		if c.ring[i].valid && !now.Before(c.ring[i].expiresAt) {
			c.ring[i] = cacheEntry{}
		}
	}
}
