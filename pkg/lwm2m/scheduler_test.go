package lwm2m

import (
	"testing"
	"time"
)

func TestEngineNextStepTimeDefaultsToRequestTimeout(t *testing.T) {
	e, err := NewEngine(nil, nil, "urn:test:1")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	now := time.Unix(0, 0)
	got := e.NextStepTime(now)
	if got != e.cfg.exchangeRequestTimeout {
		t.Fatalf("NextStepTime = %v, want %v", got, e.cfg.exchangeRequestTimeout)
	}
}

func TestEngineNextStepTimeTracksScheduledUpdate(t *testing.T) {
	e, err := NewEngine(nil, nil, "urn:test:1")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	now := time.Unix(0, 0)
	e.session.Lifetime = time.Hour
	e.regDriver.OnRegisterSuccess(nil, now)

	got := e.NextStepTime(now)
	want := e.session.UpdateDeadline(e.cfg.udpTxParams, now).Sub(now)
	if got != want {
		t.Fatalf("NextStepTime = %v, want %v", got, want)
	}
}

func TestEngineStepWithoutNetworkAdapterIsNoOp(t *testing.T) {
	e, err := NewEngine(nil, nil, "urn:test:1")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	if err := e.Step(time.Unix(0, 0)); err != nil {
		t.Fatalf("Step: %v", err)
	}
}
