package lwm2m

import "time"

// maxTransmitSpan is the longest time an exchange can spend retransmitting
// a confirmable message before giving up, per RFC 7252 §4.8.2:
//
//	MAX_TRANSMIT_SPAN = ACK_TIMEOUT * (2^MAX_RETRANSMIT - 1) * ACK_RANDOM_FACTOR
func maxTransmitSpan(p TxParams) time.Duration {
	span := p.AckTimeout.Seconds() * float64(int(1)<<uint(p.MaxRetransmit)-1) * p.AckRandomFactor
	return time.Duration(span * float64(time.Second))
}

// exchangeLifetime bounds how long a server may still be processing a
// request after the client stops retransmitting, and therefore how long
// the response cache must keep a slot reserved for a matching duplicate
// (RFC 7252 §4.8.2):
//
//	EXCHANGE_LIFETIME = MAX_TRANSMIT_SPAN + (2 * MAX_LATENCY) + ACK_TIMEOUT
//
// With RFC 7252's own defaults this comes out to 247s, which is the
// figure used throughout when sizing the response cache's expiry.
func exchangeLifetime(p TxParams) time.Duration {
	return maxTransmitSpan(p) + 2*p.MaxLatency + p.AckTimeout
}

// retransmitBackoff returns the randomized timeout to wait before the
// (attempt+1)'th retransmission, attempt starting at 0 for the initial
// send. Each retry doubles the previous timeout (RFC 7252 §4.2), and the
// caller supplies jitter in [1, AckRandomFactor] via randFactor so the
// jitter draw stays outside this pure function.
func retransmitBackoff(p TxParams, attempt int, randFactor float64) time.Duration {
	if randFactor < 1 {
		randFactor = 1
	}
	if randFactor > p.AckRandomFactor {
		randFactor = p.AckRandomFactor
	}
	base := p.AckTimeout.Seconds() * float64(int(1)<<uint(attempt))
	return time.Duration(base * randFactor * float64(time.Second))
}
