package lwm2m

import (
	"testing"
	"time"
)

func TestRegistrationUpdateDeadlineUsesMaxTransmitWaitMargin(t *testing.T) {
	s := NewServerSession("ep", time.Hour, "U", false, nil)
	now := time.Unix(0, 0)
	deadline := s.UpdateDeadline(DefaultTxParams(), now)
	wait := maxTransmitWait(DefaultTxParams())
	want := now.Add(time.Hour - wait)
	if deadline != want {
		t.Fatalf("UpdateDeadline = %v, want %v", deadline, want)
	}
}

func TestRegistrationUpdateDeadlineShortLifetimeHalves(t *testing.T) {
	s := NewServerSession("ep", time.Second, "U", false, nil)
	now := time.Unix(0, 0)
	deadline := s.UpdateDeadline(DefaultTxParams(), now)
	want := now.Add(time.Second / 2)
	if deadline != want {
		t.Fatalf("UpdateDeadline = %v, want %v", deadline, want)
	}
}

func TestRegistrationDriverOnRegisterSuccessTransitions(t *testing.T) {
	var statuses []ConnStatus
	s := NewServerSession("ep", time.Hour, "U", false, func(st ConnStatus) { statuses = append(statuses, st) })
	d := NewRegistrationDriver(s, DefaultTxParams(), 3, time.Second)

	d.OnRegisterSuccess([]string{"/rd/123"}, time.Unix(0, 0))
	if s.Status() != StatusRegistered {
		t.Fatalf("expected REGISTERED, got %v", s.Status())
	}
	if len(statuses) != 1 || statuses[0] != StatusRegistered {
		t.Fatalf("expected one status callback to REGISTERED, got %v", statuses)
	}
}

func TestRegistrationDriverRetryThenFallbackToBootstrap(t *testing.T) {
	s := NewServerSession("ep", time.Hour, "U", false, nil)
	d := NewRegistrationDriver(s, DefaultTxParams(), 2, time.Second)

	now := time.Unix(0, 0)
	if outcome := d.OnRegisterFailure(now); outcome != RegisterRetry {
		t.Fatalf("attempt 1: expected RegisterRetry, got %v", outcome)
	}
	if outcome := d.OnRegisterFailure(now); outcome != RegisterRetry {
		t.Fatalf("attempt 2: expected RegisterRetry, got %v", outcome)
	}
	if outcome := d.OnRegisterFailure(now); outcome != RegisterFallBackToBootstrap {
		t.Fatalf("attempt 3: expected RegisterFallBackToBootstrap, got %v", outcome)
	}
	if s.Status() != StatusBootstrapping {
		t.Fatalf("expected BOOTSTRAPPING, got %v", s.Status())
	}
}

func TestRegistrationDriverFailsHardWhenBootstrapOnFailureDisabled(t *testing.T) {
	s := NewServerSession("ep", time.Hour, "U", false, nil)
	d := NewRegistrationDriver(s, DefaultTxParams(), 0, time.Second)
	d.SetBootstrapOnRegistrationFailure(false)

	if outcome := d.OnRegisterFailure(time.Unix(0, 0)); outcome != RegisterFail {
		t.Fatalf("expected RegisterFail, got %v", outcome)
	}
	if s.Status() != StatusFailure {
		t.Fatalf("expected FAILURE, got %v", s.Status())
	}
}

func TestRegistrationDriverQueueModeTransitions(t *testing.T) {
	s := NewServerSession("ep", time.Hour, "U", true, nil)
	d := NewRegistrationDriver(s, DefaultTxParams(), 3, time.Second)
	d.OnRegisterSuccess(nil, time.Unix(0, 0))

	d.EnterQueueMode()
	if s.Status() != StatusQueueMode {
		t.Fatalf("expected QUEUE_MODE, got %v", s.Status())
	}
	d.LeaveQueueMode()
	if s.Status() != StatusRegistered {
		t.Fatalf("expected REGISTERED after leaving queue mode, got %v", s.Status())
	}
}

func TestRegistrationDriverDisableAndDeadline(t *testing.T) {
	s := NewServerSession("ep", time.Hour, "U", false, nil)
	d := NewRegistrationDriver(s, DefaultTxParams(), 3, time.Second)
	now := time.Unix(0, 0)
	d.Disable(now, 10*time.Second)
	if s.Status() != StatusSuspended {
		t.Fatalf("expected SUSPENDED, got %v", s.Status())
	}
	if d.DisableDeadlinePassed(now.Add(5 * time.Second)) {
		t.Fatalf("deadline should not have passed yet")
	}
	if !d.DisableDeadlinePassed(now.Add(11 * time.Second)) {
		t.Fatalf("expected disable deadline to have passed")
	}
}
