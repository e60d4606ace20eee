package lwm2m

import (
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

// ExchangeState is the lifecycle of one outstanding CoAP exchange (§5).
type ExchangeState uint8

const (
	ExchangeIdle ExchangeState = iota
	ExchangeMsgToSend
	ExchangeWaitingSendConfirmation // CON sent, waiting for its ACK/RST
	ExchangeWaitingMsg              // waiting for a (possibly separate) response
	ExchangeFinished
)

// CompletionFunc is invoked exactly once when an exchange finishes, with
// either an assembled response or a Result describing why it did not
// complete (timeout, reset, CoAP error, network failure).
type CompletionFunc func(resp *coap.Message, body []byte, err *lwm2merr.Result)

// Exchange drives a single request through retransmission and,
// transparently to the completion callback, through any Block2
// continuation needed to assemble a full response body (RFC 7959 §2.4).
//
// Grounded on broker.do/brokerCxn.waitResp's promise/completion-callback
// pattern (DESIGN.md), with RFC 7252's doubling backoff and
// MAX_TRANSMIT_SPAN/EXCHANGE_LIFETIME bounds (transmission.go).
type Exchange struct {
	state ExchangeState

	params   TxParams
	nextTok  func() coap.TokenValue
	onFinish CompletionFunc

	request  coap.Message
	token    coap.TokenValue
	attempt  int
	nextStep time.Time
	deadline time.Time // EXCHANGE_LIFETIME bound from exchange start

	body []byte // accumulated response payload across Block2 continuations
}

// NewExchange starts tracking req, due to be sent at now. req.Token and
// req.MsgID are expected to already be set by the caller.
func NewExchange(req coap.Message, params TxParams, nextTok func() coap.TokenValue, onFinish CompletionFunc, now time.Time) *Exchange {
	return &Exchange{
		state:    ExchangeMsgToSend,
		params:   params,
		nextTok:  nextTok,
		onFinish: onFinish,
		request:  req,
		token:    req.Token,
		deadline: now.Add(exchangeLifetime(params)),
	}
}

// Outbox returns the message the caller should put on the wire right now,
// if the exchange has one pending, and advances internal state.
func (e *Exchange) Outbox(now time.Time) (coap.Message, bool) {
	if e.state != ExchangeMsgToSend {
		return coap.Message{}, false
	}
	if e.request.Type == coap.Confirmable {
		e.state = ExchangeWaitingSendConfirmation
		e.nextStep = now.Add(retransmitBackoff(e.params, e.attempt, 1+0.5*pseudoJitter(e.attempt)))
	} else {
		e.state = ExchangeWaitingMsg
	}
	return e.request, true
}

// pseudoJitter derives a deterministic-but-varying jitter fraction in
// [0,1) from the attempt counter, avoiding a dependency on math/rand for
// a value whose only job is to avoid every client retransmitting in
// lockstep.
func pseudoJitter(attempt int) float64 {
	x := uint32(attempt*2654435761 + 1)
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return float64(x%1000) / 1000
}

// Deadline returns when this exchange next needs attention: either its
// retransmit/timeout deadline, whichever is sooner.
func (e *Exchange) Deadline() time.Time {
	if e.state == ExchangeWaitingSendConfirmation {
		if e.nextStep.Before(e.deadline) {
			return e.nextStep
		}
	}
	return e.deadline
}

// Step is called when Deadline() has passed. It either re-arms the
// exchange for another retransmission or terminates it with a timeout.
func (e *Exchange) Step(now time.Time) (resend bool, terminated bool) {
	switch e.state {
	case ExchangeWaitingSendConfirmation:
		if !now.Before(e.deadline) {
			e.terminate(nil, nil, lwm2merr.New(lwm2merr.Timeout))
			return false, true
		}
		if now.Before(e.nextStep) {
			return false, false
		}
		e.attempt++
		if e.attempt > e.params.MaxRetransmit {
			e.terminate(nil, nil, lwm2merr.New(lwm2merr.Timeout))
			return false, true
		}
		e.state = ExchangeMsgToSend
		return true, false
	case ExchangeWaitingMsg:
		if !now.Before(e.deadline) {
			e.terminate(nil, nil, lwm2merr.New(lwm2merr.Timeout))
			return false, true
		}
	}
	return false, false
}

// HandleIncoming delivers a message addressed to this exchange (matched
// by the caller on token/MsgID). Returns true once the exchange is fully
// finished (including after any Block2 continuation completes).
func (e *Exchange) HandleIncoming(msg coap.Message, now time.Time) bool {
	switch e.state {
	case ExchangeWaitingSendConfirmation:
		if msg.Type == coap.Reset {
			e.terminate(nil, nil, lwm2merr.New(lwm2merr.Rejected))
			return true
		}
		if msg.Code == coap.CodeEmpty {
			// bare ACK: response arrives separately later.
			e.state = ExchangeWaitingMsg
			return false
		}
		return e.deliverResponse(msg, now)
	case ExchangeWaitingMsg:
		if msg.Code == coap.CodeEmpty {
			return false
		}
		return e.deliverResponse(msg, now)
	default:
		return false
	}
}

// deliverResponse handles one response message, continuing the exchange
// with a follow-up Block2 GET if more blocks remain.
func (e *Exchange) deliverResponse(msg coap.Message, now time.Time) bool {
	if msg.Code.IsError() {
		e.terminate(&msg, nil, lwm2merr.CoAP(byte(msg.Code)))
		return true
	}
	if block, ok := msg.Opts.GetBlock(coap.OptionBlock2); ok {
		e.body = append(e.body, msg.Payload...)
		if block.More {
			next := e.request
			next.Token = e.nextTok()
			next.MsgID = 0 // caller/transport assigns a fresh MsgID on send
			next.Opts = nil
			for _, o := range e.request.Opts {
				if o.Number != coap.OptionBlock2 {
					next.Opts = append(next.Opts, o)
				}
			}
			next.Opts.SetBlock(coap.OptionBlock2, coap.BlockValue{Num: block.Num + 1, SZX: block.SZX})
			e.token = next.Token
			e.request = next
			e.attempt = 0
			e.state = ExchangeMsgToSend
			return false
		}
		e.terminate(&msg, e.body, nil)
		return true
	}
	e.body = msg.Payload
	e.terminate(&msg, e.body, nil)
	return true
}

func (e *Exchange) terminate(resp *coap.Message, body []byte, err *lwm2merr.Result) {
	if e.state == ExchangeFinished {
		return
	}
	e.state = ExchangeFinished
	if e.onFinish != nil {
		e.onFinish(resp, body, err)
	}
}

func (e *Exchange) Finished() bool     { return e.state == ExchangeFinished }
func (e *Exchange) Token() coap.TokenValue { return e.token }

// Terminate aborts the exchange early (e.g. the driver that owns it is
// being torn down), delivering Abort to the completion callback.
func (e *Exchange) Terminate() {
	e.terminate(nil, nil, lwm2merr.New(lwm2merr.Abort))
}
