package lwm2m

import "time"

// BootstrapState is the client-initiated bootstrap sequence's state
// machine (§4.7).
type BootstrapState uint8

const (
	BootstrapIdle BootstrapState = iota
	BootstrapConnect
	BootstrapRequestSent
	BootstrapWaitingFinish
	BootstrapFinished
	BootstrapFailed
)

func (s BootstrapState) String() string {
	switch s {
	case BootstrapIdle:
		return "IDLE"
	case BootstrapConnect:
		return "CONNECT"
	case BootstrapRequestSent:
		return "REQUEST_SENT"
	case BootstrapWaitingFinish:
		return "WAITING_FINISH"
	case BootstrapFinished:
		return "FINISHED"
	case BootstrapFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// BootstrapDriver drives one bootstrap attempt/sequence per §4.7:
// per-attempt exponential retry, and a bounded number of whole-sequence
// retries with a fixed inter-sequence delay.
type BootstrapDriver struct {
	state BootstrapState

	retryCount    int
	retryTimer    time.Duration
	seqRetryCount int
	seqDelayTimer time.Duration
	timeout       time.Duration

	attempt    int
	seq        int
	deadline   time.Time
	nextActionAt time.Time
}

func NewBootstrapDriver(retryCount int, retryTimer time.Duration, seqRetryCount int, seqDelayTimer, timeout time.Duration) *BootstrapDriver {
	return &BootstrapDriver{
		state:         BootstrapIdle,
		retryCount:    retryCount,
		retryTimer:    retryTimer,
		seqRetryCount: seqRetryCount,
		seqDelayTimer: seqDelayTimer,
		timeout:       timeout,
	}
}

func (d *BootstrapDriver) State() BootstrapState { return d.state }

// Start begins (or restarts) the bootstrap sequence.
func (d *BootstrapDriver) Start(now time.Time) {
	d.state = BootstrapConnect
	d.attempt = 0
	d.seq = 0
	d.deadline = now.Add(d.timeout)
}

// Connected transitions CONNECT -> REQUEST_SENT once the transport
// reports a live connection to the bootstrap server.
func (d *BootstrapDriver) Connected() {
	if d.state == BootstrapConnect {
		d.state = BootstrapRequestSent
	}
}

// RequestAcked transitions into waiting for the server to call Finish.
func (d *BootstrapDriver) RequestAcked() {
	if d.state == BootstrapRequestSent {
		d.state = BootstrapWaitingFinish
	}
}

// Finish is called when the server issues Bootstrap-Finish.
func (d *BootstrapDriver) Finish() {
	d.state = BootstrapFinished
}

// attemptBackoff returns retry_timer * 2^(k-1) for 1-indexed attempt k.
func (d *BootstrapDriver) attemptBackoff() time.Duration {
	k := d.attempt
	if k < 1 {
		k = 1
	}
	return d.retryTimer * time.Duration(int64(1)<<uint(k-1))
}

// Fail records a failed attempt (connect failure, request timeout,
// Finish never arriving) and decides the next action per §4.7's
// two-level retry policy.
func (d *BootstrapDriver) Fail(now time.Time) {
	d.attempt++
	if d.attempt <= d.retryCount {
		d.nextActionAt = now.Add(d.attemptBackoff())
		d.state = BootstrapConnect
		return
	}
	d.seq++
	d.attempt = 0
	if d.seq <= d.seqRetryCount {
		d.nextActionAt = now.Add(d.seqDelayTimer)
		d.state = BootstrapConnect
		return
	}
	d.state = BootstrapFailed
}

// DeadlinePassed reports whether the whole sequence has overrun its
// configured timeout.
func (d *BootstrapDriver) DeadlinePassed(now time.Time) bool {
	return d.state != BootstrapFinished && d.state != BootstrapFailed && !now.Before(d.deadline)
}

// NextActionAt is when the driver next needs to retry a connect/request,
// used by the top-level scheduler to compute next_step_time.
func (d *BootstrapDriver) NextActionAt() time.Time { return d.nextActionAt }
