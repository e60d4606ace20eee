package lwm2m

import "testing"

func TestSendQueueEnqueueRejectsDuplicatePaths(t *testing.T) {
	q := NewSendQueue(4)
	entries := []SendEntry{{Path: ResourcePath(3, 0, 1), Value: IntValue(1)}, {Path: ResourcePath(3, 0, 1), Value: IntValue(2)}}
	if _, err := q.Enqueue(entries, FormatSenMLCBOR, nil); err == nil {
		t.Fatalf("expected duplicate-path rejection")
	}
}

func TestSendQueueEnqueueRespectsCapacity(t *testing.T) {
	q := NewSendQueue(1)
	if _, err := q.Enqueue([]SendEntry{{Path: ResourcePath(3, 0, 1)}}, FormatSenMLCBOR, nil); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue([]SendEntry{{Path: ResourcePath(3, 0, 2)}}, FormatSenMLCBOR, nil); err == nil {
		t.Fatalf("expected NoSpace on exceeding capacity")
	}
}

func TestSendQueueEligibilityRules(t *testing.T) {
	q := NewSendQueue(4)
	q.Enqueue([]SendEntry{{Path: ResourcePath(3, 0, 1)}}, FormatSenMLCBOR, nil)

	if q.Eligible(StatusRegistering, false, false) {
		t.Fatalf("expected ineligible while REGISTERING")
	}
	if q.Eligible(StatusRegistered, true, false) {
		t.Fatalf("expected ineligible with a higher-priority exchange pending")
	}
	if q.Eligible(StatusRegistered, false, true) {
		t.Fatalf("expected ineligible when Mute Send is true")
	}
	if !q.Eligible(StatusRegistered, false, false) {
		t.Fatalf("expected eligible when registered, idle, and not muted")
	}
}

func TestSendQueueStartCompleteAndAbort(t *testing.T) {
	var results []SendResult
	q := NewSendQueue(4)
	id, err := q.Enqueue([]SendEntry{{Path: ResourcePath(3, 0, 1)}}, FormatSenMLCBOR, func(id uint16, r SendResult) {
		results = append(results, r)
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	req, ok := q.Start()
	if !ok || req.id != id {
		t.Fatalf("Start: got %v, ok=%v", req, ok)
	}
	if _, ok := q.RunningID(); !ok {
		t.Fatalf("expected a running id")
	}
	q.Complete(SendSuccess)
	if len(results) != 1 || results[0] != SendSuccess {
		t.Fatalf("expected one SendSuccess callback, got %v", results)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after completion, got %d", q.Len())
	}
}

func TestSendQueueAbortByID(t *testing.T) {
	var got SendResult
	q := NewSendQueue(4)
	id, _ := q.Enqueue([]SendEntry{{Path: ResourcePath(3, 0, 1)}}, FormatSenMLCBOR, func(id uint16, r SendResult) { got = r })
	if !q.Abort(id) {
		t.Fatalf("expected Abort to find the request")
	}
	if got != SendAbort {
		t.Fatalf("expected SendAbort callback, got %v", got)
	}
}
