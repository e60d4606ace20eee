package lwm2m

import "github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"

// SendResult is delivered to a Send request's completion callback (§4.6).
type SendResult uint8

const (
	SendSuccess SendResult = iota
	SendTimeout
	SendAbort
	SendRejected
	SendNetwork
	SendInternal
)

// SendCallback is invoked exactly once when a queued send request
// finishes, successfully or not.
type SendCallback func(id uint16, result SendResult)

// SendEntry is one data-model value to report, paired with its path.
type SendEntry struct {
	Path  Path
	Value Value
}

// sendRequest is one queued record (§3: "array of data-model entries to
// encode, chosen content format, user completion callback, arg, assigned
// 16-bit id").
type sendRequest struct {
	valid    bool
	id       uint16
	entries  []SendEntry
	format   ContentFormat
	callback SendCallback
}

// ContentFormat is the CoAP Content-Format option value chosen for a
// send/notify payload; the concrete codec is an external collaborator
// (§6), the queue only carries the caller's chosen format through.
type ContentFormat uint16

const (
	FormatText      ContentFormat = 0
	FormatCoreLink  ContentFormat = 40
	FormatOpaque    ContentFormat = 42
	FormatTLV       ContentFormat = 11542
	FormatSenMLJSON ContentFormat = 110
	FormatSenMLCBOR ContentFormat = 112
	FormatLwM2MCBOR ContentFormat = 11544
)

// SendQueue is the fixed-capacity FIFO of §4.6. At most one of its
// entries is "running" (being encoded/sent) at a time; the rest wait.
type SendQueue struct {
	entries []sendRequest // fixed capacity
	nextID  uint16
	running int // index into entries of the in-flight request, or -1
}

func NewSendQueue(capacity int) *SendQueue {
	return &SendQueue{
		entries: make([]sendRequest, 0, capacity),
		running: -1,
	}
}

// Enqueue appends a new request, rejecting duplicate paths within the
// same request (§4.6) and failing with NoSpace when the fixed FIFO is
// full.
func (q *SendQueue) Enqueue(entries []SendEntry, format ContentFormat, cb SendCallback) (uint16, *lwm2merr.Result) {
	seen := make(map[Path]bool, len(entries))
	for _, e := range entries {
		if seen[e.Path] {
			return 0, lwm2merr.New(lwm2merr.InvalidArg)
		}
		seen[e.Path] = true
	}
	if len(q.entries) >= cap(q.entries) {
		// reclaim slots zeroed by finish() before declaring the FIFO full
		kept := q.entries[:0]
		for i, e := range q.entries {
			if i == q.running {
				q.running = len(kept)
			}
			if e.valid {
				kept = append(kept, e)
			}
		}
		q.entries = kept
	}
	if len(q.entries) >= cap(q.entries) {
		return 0, lwm2merr.New(lwm2merr.NoSpace)
	}
	q.nextID++
	id := q.nextID
	q.entries = append(q.entries, sendRequest{
		valid: true, id: id, entries: entries, format: format, callback: cb,
	})
	return id, nil
}

// Abort cancels a queued or in-flight request by id, delivering
// SendAbort to its callback. AbortAll cancels every pending request.
func (q *SendQueue) Abort(id uint16) bool {
	for i := range q.entries {
		if q.entries[i].valid && q.entries[i].id == id {
			q.finish(i, SendAbort)
			return true
		}
	}
	return false
}

func (q *SendQueue) AbortAll() {
	for i := range q.entries {
		if q.entries[i].valid {
			q.finish(i, SendAbort)
		}
	}
}

func (q *SendQueue) finish(i int, result SendResult) {
	req := q.entries[i]
	q.entries[i] = sendRequest{}
	if i == q.running {
		q.running = -1
	}
	if req.callback != nil {
		req.callback(req.id, result)
	}
}

// Eligible reports whether the queue has work and is allowed to start it
// now, per §4.6's eligibility rule: connected (REGISTERED, or QUEUE_MODE
// in which case the caller must first leave queue mode), no
// higher-priority exchange pending, and Mute Send is false.
func (q *SendQueue) Eligible(connStatus ConnStatus, higherPriorityPending, muteSend bool) bool {
	if q.running >= 0 {
		return false
	}
	if muteSend || higherPriorityPending {
		return false
	}
	if connStatus != StatusRegistered && connStatus != StatusQueueMode {
		return false
	}
	return q.nextPending() >= 0
}

func (q *SendQueue) nextPending() int {
	for i := range q.entries {
		if q.entries[i].valid && i != q.running {
			return i
		}
	}
	return -1
}

// Start marks the next pending request as running and returns it.
func (q *SendQueue) Start() (sendRequest, bool) {
	i := q.nextPending()
	if i < 0 {
		return sendRequest{}, false
	}
	q.running = i
	return q.entries[i], true
}

// Complete finishes the currently-running request with result.
func (q *SendQueue) Complete(result SendResult) {
	if q.running < 0 {
		return
	}
	q.finish(q.running, result)
}

// RunningID reports the id of the in-flight request, if any.
func (q *SendQueue) RunningID() (uint16, bool) {
	if q.running < 0 {
		return 0, false
	}
	return q.entries[q.running].id, true
}

// Len reports how many requests (running + pending) are currently queued.
func (q *SendQueue) Len() int {
	n := 0
	for _, e := range q.entries {
		if e.valid {
			n++
		}
	}
	return n
}
