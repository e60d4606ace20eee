package lwm2m

import (
	"testing"

	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

type stubHandler struct{}

func (stubHandler) TransactionBegin(uint16)                                        {}
func (stubHandler) TransactionValidate(uint16) *lwm2merr.Result                    { return nil }
func (stubHandler) TransactionEnd(uint16, TransactionOutcome)                      {}
func (stubHandler) InstanceReset(uint16) *lwm2merr.Result                          { return nil }
func (stubHandler) WriteResource(uint16, uint16, Chunk) *lwm2merr.Result           { return nil }
func (stubHandler) WriteResourceInstance(uint16, uint16, uint16, Chunk) *lwm2merr.Result {
	return nil
}
func (stubHandler) ReadValue(uint16, uint16, uint16) (Value, *lwm2merr.Result) { return Value{}, nil }
func (stubHandler) Execute(uint16, uint16, []byte) *lwm2merr.Result            { return nil }
func (stubHandler) CreateInstance(uint16) *lwm2merr.Result                    { return nil }
func (stubHandler) DeleteInstance(uint16) *lwm2merr.Result                    { return nil }

func TestObjectInstanceOrderingInvariant(t *testing.T) {
	template := []ResourceDescriptor{{RID: 0, Kind: KindRW, Type: TypeString}}
	obj := NewObject(3, 4, template, stubHandler{})

	for _, iid := range []uint16{2, 0, 1} {
		inst := NewInstance(iid, template, 0)
		if err := obj.InsertInstance(inst); err != nil {
			t.Fatalf("InsertInstance(%d): %v", iid, err)
		}
	}
	var prev uint16
	for i, inst := range obj.Instances {
		if i > 0 && inst.IID <= prev {
			t.Fatalf("instances not strictly ascending: %v", obj.Instances)
		}
		prev = inst.IID
	}
}

func TestObjectInsertInstanceCapacity(t *testing.T) {
	obj := NewObject(3, 1, nil, stubHandler{})
	if err := obj.InsertInstance(NewInstance(0, nil, 0)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := obj.InsertInstance(NewInstance(1, nil, 0)); err == nil {
		t.Fatalf("expected NoSpace on exceeding capacity")
	}
}

func TestMultiInstanceResourceRIIDOrdering(t *testing.T) {
	template := []ResourceDescriptor{{RID: 0, Kind: KindRWM, Type: TypeString}}
	inst := NewInstance(0, template, 4)
	desc, _ := inst.ResourceDesc(0)
	for _, riid := range []uint16{3, 1, 2} {
		if !desc.insertRIID(riid) {
			t.Fatalf("insertRIID(%d) failed", riid)
		}
	}
	want := []uint16{1, 2, 3}
	for i, r := range desc.RIIDs {
		if r != want[i] {
			t.Fatalf("RIIDs = %v, want %v", desc.RIIDs, want)
		}
	}
	desc.clearRIIDs()
	if len(desc.RIIDs) != 0 {
		t.Fatalf("expected RIIDs cleared, got %v", desc.RIIDs)
	}
}
