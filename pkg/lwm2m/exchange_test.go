package lwm2m

import (
	"testing"
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

func newTestTokenFunc() func() coap.TokenValue {
	n := byte(0)
	return func() coap.TokenValue {
		n++
		tv, _ := coap.TokenFrom([]byte{n})
		return tv
	}
}

func TestExchangeConfirmableAckThenResponse(t *testing.T) {
	now := time.Unix(0, 0)
	req := coap.Message{Type: coap.Confirmable, Code: coap.CodeGET, MsgID: 1, Token: tok(1)}

	var gotResp *coap.Message
	var gotErr *lwm2merr.Result
	ex := NewExchange(req, DefaultTxParams(), newTestTokenFunc(), func(resp *coap.Message, body []byte, err *lwm2merr.Result) {
		gotResp = resp
		gotErr = err
	}, now)

	msg, ok := ex.Outbox(now)
	if !ok || msg.MsgID != 1 {
		t.Fatalf("expected outbox message, got %v %v", msg, ok)
	}
	if _, ok := ex.Outbox(now); ok {
		t.Fatalf("expected no second outbox message before response")
	}

	ack := coap.Message{Type: coap.Acknowledgement, Code: coap.CodeEmpty, MsgID: 1}
	if done := ex.HandleIncoming(ack, now); done {
		t.Fatalf("bare ACK should not finish the exchange")
	}

	resp := coap.Message{Type: coap.Confirmable, Code: coap.CodeContent, MsgID: 1, Token: tok(1), Payload: []byte("ok")}
	if done := ex.HandleIncoming(resp, now); !done {
		t.Fatalf("expected exchange to finish on response")
	}
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotResp == nil || string(gotResp.Payload) != "ok" {
		t.Fatalf("unexpected response: %v", gotResp)
	}
}

func TestExchangeResetTerminatesWithRejected(t *testing.T) {
	now := time.Unix(0, 0)
	req := coap.Message{Type: coap.Confirmable, Code: coap.CodeGET, MsgID: 5, Token: tok(1)}
	var gotErr *lwm2merr.Result
	ex := NewExchange(req, DefaultTxParams(), newTestTokenFunc(), func(resp *coap.Message, body []byte, err *lwm2merr.Result) {
		gotErr = err
	}, now)
	ex.Outbox(now)

	rst := coap.Message{Type: coap.Reset, Code: coap.CodeEmpty, MsgID: 5}
	if done := ex.HandleIncoming(rst, now); !done {
		t.Fatalf("expected RST to finish the exchange")
	}
	if gotErr == nil || gotErr.Kind != lwm2merr.Rejected {
		t.Fatalf("expected REJECTED, got %v", gotErr)
	}
}

func TestExchangeTimeoutAfterMaxRetransmit(t *testing.T) {
	now := time.Unix(0, 0)
	req := coap.Message{Type: coap.Confirmable, Code: coap.CodeGET, MsgID: 1, Token: tok(1)}
	var gotErr *lwm2merr.Result
	ex := NewExchange(req, DefaultTxParams(), newTestTokenFunc(), func(resp *coap.Message, body []byte, err *lwm2merr.Result) {
		gotErr = err
	}, now)
	ex.Outbox(now)

	cur := now
	for i := 0; i < 10 && !ex.Finished(); i++ {
		cur = ex.Deadline().Add(time.Millisecond)
		resend, terminated := ex.Step(cur)
		if resend {
			ex.Outbox(cur)
		}
		if terminated {
			break
		}
	}
	if !ex.Finished() {
		t.Fatalf("expected exchange to eventually time out")
	}
	if gotErr == nil || gotErr.Kind != lwm2merr.Timeout {
		t.Fatalf("expected TIMEOUT, got %v", gotErr)
	}
}

func TestExchangeBlock2Continuation(t *testing.T) {
	now := time.Unix(0, 0)
	req := coap.Message{Type: coap.NonConfirmable, Code: coap.CodeGET, MsgID: 1, Token: tok(1)}
	var gotBody []byte
	done := false
	ex := NewExchange(req, DefaultTxParams(), newTestTokenFunc(), func(resp *coap.Message, body []byte, err *lwm2merr.Result) {
		gotBody = body
		done = err == nil
	}, now)
	ex.Outbox(now)

	var first coap.Message
	first.Type = coap.NonConfirmable
	first.Code = coap.CodeContent
	first.Payload = []byte("AAAA")
	first.Opts.SetBlock(coap.OptionBlock2, coap.BlockValue{Num: 0, More: true, SZX: coap.SZX16})
	if fin := ex.HandleIncoming(first, now); fin {
		t.Fatalf("did not expect exchange to finish with more blocks pending")
	}

	msg, ok := ex.Outbox(now)
	if !ok {
		t.Fatalf("expected a follow-up block request")
	}
	if block, ok := msg.Opts.GetBlock(coap.OptionBlock2); !ok || block.Num != 1 {
		t.Fatalf("expected Block2 NUM=1 follow-up, got %v", msg.Opts)
	}

	var second coap.Message
	second.Type = coap.NonConfirmable
	second.Code = coap.CodeContent
	second.Payload = []byte("BBBB")
	second.Opts.SetBlock(coap.OptionBlock2, coap.BlockValue{Num: 1, More: false, SZX: coap.SZX16})
	if fin := ex.HandleIncoming(second, now); !fin {
		t.Fatalf("expected exchange to finish on final block")
	}
	if !done || string(gotBody) != "AAAABBBB" {
		t.Fatalf("expected assembled body AAAABBBB, got %q (done=%v)", gotBody, done)
	}
}
