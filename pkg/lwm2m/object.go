package lwm2m

import "github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"

// Chunk describes one delivery of a string/bytes write, per §4.4's
// chunking contract: "write handlers receive (data, offset, chunk_length,
// full_length_hint) and must accept either a single full-length delivery
// or a monotonically increasing sequence of chunks."
type Chunk struct {
	Data           []byte
	Offset         uint32
	FullLengthHint uint32
}

// Last reports whether this chunk completes the value, per §4.4: "final
// chunk is marked by full_length_hint > 0 && offset+chunk_length ==
// full_length_hint".
func (c Chunk) Last() bool {
	return c.FullLengthHint > 0 && c.Offset+uint32(len(c.Data)) == c.FullLengthHint
}

// TransactionOutcome is passed to Handler.TransactionEnd.
type TransactionOutcome uint8

const (
	TransactionSuccess TransactionOutcome = iota
	TransactionFailure
)

// Handler is the capability-bearing vtable the host application supplies
// per object (§9: "objects expose a handler vtable abstraction; host code
// supplies a capability-bearing implementation. The dispatcher holds only
// non-owning references to objects living in caller storage.").
//
// Every method may be called only between a matching Begin/TransactionEnd
// pair for the object, except ReadValue and Execute which stand alone.
type Handler interface {
	// TransactionBegin is called exactly once per object touched within a
	// dispatcher transaction (§4.4).
	TransactionBegin(iid uint16)

	// TransactionValidate is called for each instance of every touched
	// object (once with InvalidID for an object with no instances) after
	// all writes for the transaction have been staged, before commit.
	TransactionValidate(iid uint16) *lwm2merr.Result

	// TransactionEnd commits or rolls back staged data for iid.
	TransactionEnd(iid uint16, outcome TransactionOutcome)

	// InstanceReset clears an instance to its power-on-default values; the
	// mandatory handler invoked by WRITE_REPLACE on an instance path
	// (§4.4).
	InstanceReset(iid uint16) *lwm2merr.Result

	// WriteResource stages a write to a single-instance resource.
	WriteResource(iid uint16, rid uint16, chunk Chunk) *lwm2merr.Result

	// WriteResourceInstance stages a write to one instance of a
	// multi-instance resource.
	WriteResourceInstance(iid uint16, rid, riid uint16, chunk Chunk) *lwm2merr.Result

	// ReadValue reads the current committed value at a resource or
	// resource-instance path. Not part of a transaction.
	ReadValue(iid uint16, rid uint16, riid uint16) (Value, *lwm2merr.Result)

	// Execute invokes an executable resource with an opaque argument.
	Execute(iid uint16, rid uint16, arg []byte) *lwm2merr.Result

	// CreateInstance allocates iid within the object, seeded with default
	// values. Used by CREATE and by bootstrap writes that target a
	// non-existent instance (§4.4).
	CreateInstance(iid uint16) *lwm2merr.Result

	// DeleteInstance removes iid.
	DeleteInstance(iid uint16) *lwm2merr.Result
}

// Object is the engine-side record for one installed LwM2M object: its
// identity, version, fixed-capacity instance table, and the host's
// Handler. Object lifetime equals the application lifetime (§3); the
// dispatcher only ever holds a non-owning reference to it.
type Object struct {
	OID           uint16
	VersionMajor  uint8
	VersionMinor  uint8
	Mandatory     bool
	Instances     []*Instance // ascending IID, at most MaxInstances entries
	MaxInstances  int
	ResourceDescs []ResourceDescriptor // template shared by every instance
	Handler       Handler
}

// NewObject builds an Object with a fixed instance capacity.
func NewObject(oid uint16, maxInstances int, resources []ResourceDescriptor, h Handler) *Object {
	return &Object{
		OID:           oid,
		VersionMajor:  1,
		VersionMinor:  0,
		Instances:     make([]*Instance, 0, maxInstances),
		MaxInstances:  maxInstances,
		ResourceDescs: resources,
		Handler:       h,
	}
}

// FindInstance returns the instance with the given iid, or nil.
func (o *Object) FindInstance(iid uint16) *Instance {
	for _, inst := range o.Instances {
		if inst.IID == iid {
			return inst
		}
	}
	return nil
}

// InsertInstance inserts a new Instance keeping Instances strictly
// ascending by IID (§3 invariant), failing with NoSpace if the object's
// fixed capacity is exhausted.
func (o *Object) InsertInstance(inst *Instance) *lwm2merr.Result {
	if o.FindInstance(inst.IID) != nil {
		return lwm2merr.New(lwm2merr.InvalidArg)
	}
	if len(o.Instances) >= o.MaxInstances {
		return lwm2merr.New(lwm2merr.NoSpace)
	}
	o.Instances = append(o.Instances, inst)
	for i := len(o.Instances) - 1; i > 0 && o.Instances[i].IID < o.Instances[i-1].IID; i-- {
		o.Instances[i], o.Instances[i-1] = o.Instances[i-1], o.Instances[i]
	}
	return nil
}

// RemoveInstance deletes the instance with the given iid, if present.
func (o *Object) RemoveInstance(iid uint16) {
	for i, inst := range o.Instances {
		if inst.IID == iid {
			o.Instances = append(o.Instances[:i], o.Instances[i+1:]...)
			return
		}
	}
}

// ResourceDesc returns the template descriptor for rid, if declared.
func (o *Object) ResourceDesc(rid uint16) (*ResourceDescriptor, bool) {
	for i := range o.ResourceDescs {
		if o.ResourceDescs[i].RID == rid {
			return &o.ResourceDescs[i], true
		}
	}
	return nil, false
}

// Instance is one object instance: an IID and the per-instance copy of
// the object's resource descriptors (so multi-instance RIID sets are
// instance-local, per §3).
type Instance struct {
	IID       uint16
	Resources []ResourceDescriptor
}

// NewInstance deep-copies an object's resource-descriptor template for a
// fresh instance, giving each multi-instance resource its own RIID slice
// with the requested per-resource capacity.
func NewInstance(iid uint16, template []ResourceDescriptor, riidCapacity int) *Instance {
	resources := make([]ResourceDescriptor, len(template))
	for i, t := range template {
		resources[i] = t
		if t.Kind.Multi() {
			resources[i].RIIDs = make([]uint16, 0, riidCapacity)
		} else {
			resources[i].RIIDs = nil
		}
	}
	return &Instance{IID: iid, Resources: resources}
}

func (inst *Instance) ResourceDesc(rid uint16) (*ResourceDescriptor, bool) {
	for i := range inst.Resources {
		if inst.Resources[i].RID == rid {
			return &inst.Resources[i], true
		}
	}
	return nil, false
}
