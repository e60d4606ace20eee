package lwm2m

import (
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

// NetworkAdapter is the polymorphic datagram-transport contract of §6
// (UDP, DTLS, ...). Every call reports WOULDBLOCK through
// lwm2merr.IsWouldBlock rather than a dedicated boolean return, so
// callers use one code path for every adapter method.
type NetworkAdapter interface {
	Connect(host string, port uint16) *lwm2merr.Result
	Send(b []byte) (int, *lwm2merr.Result)
	Recv(buf []byte) (int, *lwm2merr.Result)
	Close() *lwm2merr.Result
	InnerMTU() int
	ReuseLastPort() *lwm2merr.Result
}

// ClockAdapter supplies monotonic and real time (§6). The engine uses
// monotonic time for every internal deadline and real time only for
// SenML timestamps and the 24h confirmable-notification rule.
type ClockAdapter interface {
	MonotonicNow() time.Time
	RealNow() time.Time
}

// systemClock is the default ClockAdapter, backed by time.Now. It is a
// standard-library implementation because there is no third-party clock
// source in the retrieved corpus to ground a replacement on, and
// time.Now already satisfies the monotonic-never-decreases requirement
// within one process (documented in DESIGN.md).
type systemClock struct{}

func (systemClock) MonotonicNow() time.Time { return time.Now() }
func (systemClock) RealNow() time.Time      { return time.Now() }

// SystemClock returns the default ClockAdapter.
func SystemClock() ClockAdapter { return systemClock{} }

// CodecEntry is one decoded (path, value) pair delivered to a decode
// visitor, or encoded from one on the way out.
type CodecEntry struct {
	Path  Path
	Value Value
}

// Encoder is one in-progress encode session for a content format (§6).
type Encoder interface {
	EncodeEntry(e CodecEntry) *lwm2merr.Result
	End() ([]byte, *lwm2merr.Result)
}

// CodecAdapter is one pluggable content-format serializer/deserializer
// (CBOR, SenML-CBOR, LwM2M-CBOR, Plain-Text, Opaque, TLV, CoRE-Link).
// The concrete formats are external collaborators (§6); the core only
// depends on this contract.
type CodecAdapter interface {
	Format() ContentFormat
	BeginEncode(basePath Path, itemCountHint int) (Encoder, *lwm2merr.Result)
	Decode(basePath Path, payload []byte, visit func(CodecEntry) *lwm2merr.Result) *lwm2merr.Result
}

// NegotiateFormat picks a content format from the intersection of the
// server's Accept option and the compile-time enabled set, preferring
// LwM2M-CBOR when more than one entry needs encoding and the server
// supports it (§6).
func NegotiateFormat(accept []ContentFormat, enabled map[ContentFormat]CodecAdapter, entryCount int) (ContentFormat, bool) {
	var fallback ContentFormat
	haveFallback := false
	for _, a := range accept {
		if _, ok := enabled[a]; !ok {
			continue
		}
		if entryCount > 1 && a == FormatLwM2MCBOR {
			return FormatLwM2MCBOR, true
		}
		if !haveFallback {
			fallback, haveFallback = a, true
		}
	}
	return fallback, haveFallback
}
