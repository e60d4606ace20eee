package lwm2m

import (
	"testing"

	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

type recordingHandler struct {
	stubHandler
	begins   []uint16
	ends     []TransactionOutcome
	resets   []uint16
	writes   map[uint16][]byte
	creates  []uint16
	deletes  []uint16
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{writes: make(map[uint16][]byte)}
}

func (h *recordingHandler) TransactionBegin(iid uint16) { h.begins = append(h.begins, iid) }
func (h *recordingHandler) TransactionEnd(iid uint16, outcome TransactionOutcome) {
	h.ends = append(h.ends, outcome)
}
func (h *recordingHandler) InstanceReset(iid uint16) *lwm2merr.Result {
	h.resets = append(h.resets, iid)
	return nil
}
func (h *recordingHandler) WriteResource(iid, rid uint16, chunk Chunk) *lwm2merr.Result {
	h.writes[rid] = chunk.Data
	return nil
}
func (h *recordingHandler) CreateInstance(iid uint16) *lwm2merr.Result {
	h.creates = append(h.creates, iid)
	return nil
}
func (h *recordingHandler) DeleteInstance(iid uint16) *lwm2merr.Result {
	h.deletes = append(h.deletes, iid)
	return nil
}

func newTestDataModel(h Handler) (*DataModel, *Object) {
	template := []ResourceDescriptor{
		{RID: 0, Kind: KindRW, Type: TypeString},
		{RID: 1, Kind: KindRWM, Type: TypeString},
	}
	obj := NewObject(3, 2, template, h)
	dm := NewDataModel(4)
	if err := dm.Install(obj); err != nil {
		panic(err)
	}
	inst := NewInstance(0, template, 4)
	if err := obj.InsertInstance(inst); err != nil {
		panic(err)
	}
	return dm, obj
}

func TestDispatcherReentrantBeginFails(t *testing.T) {
	dm, _ := newTestDataModel(newRecordingHandler())
	if err := dm.Begin(OpWriteReplace, false, InstancePath(3, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.Begin(OpWriteReplace, false, InstancePath(3, 0)); err == nil || err.Kind != lwm2merr.Logic {
		t.Fatalf("expected LOGIC on re-entrant begin, got %v", err)
	}
}

func TestDispatcherTransactionBeginCalledOnce(t *testing.T) {
	h := newRecordingHandler()
	dm, _ := newTestDataModel(h)

	if err := dm.Begin(OpWritePartialUpdate, false, InstancePath(3, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.WriteEntry(ResourcePath(3, 0, 0), Chunk{Data: []byte("a")}, StringValue("a")); err != nil {
		t.Fatalf("WriteEntry 1: %v", err)
	}
	if err := dm.WriteEntry(ResourceInstancePath(3, 0, 1, 0), Chunk{Data: []byte("b")}, StringValue("b")); err != nil {
		t.Fatalf("WriteEntry 2: %v", err)
	}
	dm.End(true)

	if len(h.begins) != 1 {
		t.Fatalf("expected exactly one TransactionBegin call, got %d: %v", len(h.begins), h.begins)
	}
	if len(h.ends) != 1 || h.ends[0] != TransactionSuccess {
		t.Fatalf("expected exactly one successful TransactionEnd, got %v", h.ends)
	}
}

func TestDispatcherWriteReplaceCallsInstanceReset(t *testing.T) {
	h := newRecordingHandler()
	dm, _ := newTestDataModel(h)

	if err := dm.Begin(OpWriteReplace, false, InstancePath(3, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.WriteEntry(InstancePath(3, 0), Chunk{}, Value{}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	dm.End(true)

	if len(h.resets) != 1 || h.resets[0] != 0 {
		t.Fatalf("expected InstanceReset(0), got %v", h.resets)
	}
}

func TestDispatcherPartialUpdateSkipsInstanceReset(t *testing.T) {
	h := newRecordingHandler()
	dm, _ := newTestDataModel(h)

	if err := dm.Begin(OpWritePartialUpdate, false, ResourcePath(3, 0, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.WriteEntry(ResourcePath(3, 0, 0), Chunk{Data: []byte("x")}, StringValue("x")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	dm.End(true)

	if len(h.resets) != 0 {
		t.Fatalf("expected no InstanceReset on partial update, got %v", h.resets)
	}
}

func TestDispatcherBootstrapWriteCreatesMissingInstance(t *testing.T) {
	h := newRecordingHandler()
	dm, _ := newTestDataModel(h)

	if err := dm.Begin(OpWriteReplace, true, InstancePath(3, 1)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.WriteEntry(ResourcePath(3, 1, 0), Chunk{Data: []byte("v")}, StringValue("v")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if len(h.creates) != 1 || h.creates[0] != 1 {
		t.Fatalf("expected CreateInstance(1), got %v", h.creates)
	}
}

func TestDispatcherNonBootstrapWriteToUnknownInstanceFails(t *testing.T) {
	dm, _ := newTestDataModel(newRecordingHandler())
	if err := dm.Begin(OpWriteReplace, false, InstancePath(3, 1)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err := dm.WriteEntry(ResourcePath(3, 1, 0), Chunk{}, StringValue("v"))
	if err == nil || err.Kind != lwm2merr.NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDispatcherSilentIgnoreOnBootstrapUnknownResource(t *testing.T) {
	dm, _ := newTestDataModel(newRecordingHandler())
	if err := dm.Begin(OpWriteReplace, true, InstancePath(3, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.WriteEntry(ResourcePath(3, 0, 9), Chunk{}, StringValue("v")); err != nil {
		t.Fatalf("expected silent ignore of unknown resource, got %v", err)
	}
}

func TestDispatcherMultiInstanceRIIDOrderingViaWriteEntry(t *testing.T) {
	dm, obj := newTestDataModel(newRecordingHandler())
	if err := dm.Begin(OpWritePartialUpdate, false, ResourcePath(3, 0, 1)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, riid := range []uint16{2, 0, 1} {
		if err := dm.WriteEntry(ResourceInstancePath(3, 0, 1, riid), Chunk{Data: []byte("v")}, StringValue("v")); err != nil {
			t.Fatalf("WriteEntry riid=%d: %v", riid, err)
		}
	}
	dm.End(true)

	inst := obj.FindInstance(0)
	desc, _ := inst.ResourceDesc(1)
	want := []uint16{0, 1, 2}
	for i, r := range desc.RIIDs {
		if r != want[i] {
			t.Fatalf("RIIDs = %v, want %v", desc.RIIDs, want)
		}
	}
}

func TestDispatcherCreateAndDeleteInstance(t *testing.T) {
	h := newRecordingHandler()
	dm, obj := newTestDataModel(h)

	if err := dm.Begin(OpCreate, false, ObjectPath(3)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.CreateInstance(3, 1); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	dm.End(true)
	if obj.FindInstance(1) == nil {
		t.Fatalf("expected instance 1 to exist after CreateInstance")
	}

	if err := dm.Begin(OpDelete, false, InstancePath(3, 1)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dm.DeleteInstance(InstancePath(3, 1)); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	dm.End(true)
	if obj.FindInstance(1) != nil {
		t.Fatalf("expected instance 1 to be gone after DeleteInstance")
	}
}

func TestDispatcherIterateVisitsResourceInstancesInOrder(t *testing.T) {
	dm, obj := newTestDataModel(newRecordingHandler())
	inst := obj.FindInstance(0)
	desc, _ := inst.ResourceDesc(1)
	desc.insertRIID(2)
	desc.insertRIID(0)
	desc.insertRIID(1)

	var visited []Path
	err := dm.Iterate(InstancePath(3, 0), func(p Path, d *ResourceDescriptor) *lwm2merr.Result {
		visited = append(visited, p)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []Path{
		ResourcePath(3, 0, 0),
		ResourcePath(3, 0, 1),
		ResourceInstancePath(3, 0, 1, 0),
		ResourceInstancePath(3, 0, 1, 1),
		ResourceInstancePath(3, 0, 1, 2),
	}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i, p := range want {
		if visited[i] != p {
			t.Fatalf("visited[%d] = %v, want %v", i, visited[i], p)
		}
	}
}
