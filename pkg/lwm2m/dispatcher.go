package lwm2m

import "github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"

// Op is a data-model operation (§4.4).
type Op uint8

const (
	OpRead Op = iota
	OpDiscover
	OpWriteReplace
	OpWritePartialUpdate
	OpWriteComposite
	OpCreate
	OpDelete
	OpExecute
	OpReadComposite
)

// DataModel holds the installed objects and drives the transactional
// write/create/delete semantics of §4.4. It exposes exactly the contract
// spec.md names: Begin, WriteEntry, CreateInstance, Validate, End,
// Execute, ReadValue, Iterate.
//
// Grounded on consumer.assignPartitions's stage-then-commit pattern
// (DESIGN.md): one operation stages mutations across however many
// objects it touches, then Validate/End either commits or rolls every
// touched object back together.
type DataModel struct {
	objects    []*Object // fixed capacity = dmMaxObjectsNumber (WithDMMaxObjectsNumber)
	maxObjects int

	inProgress  bool
	op          Op
	isBootstrap bool
	basePath    Path
	touched     []*Object // objects on which TransactionBegin has fired this transaction

	// replaceClearedResources tracks, within one transaction, which
	// multi-instance resources have already had their pre-existing RIIDs
	// cleared for a WRITE_REPLACE (§4.4), so repeated chunked writes to
	// the same resource don't re-clear on every call.
	replaceClearedResources []Path
}

func NewDataModel(maxObjects int) *DataModel {
	return &DataModel{
		objects:    make([]*Object, 0, maxObjects),
		maxObjects: maxObjects,
	}
}

// Install registers an object with the dispatcher. Returns NoSpace if the
// fixed object table is full, InvalidArg if the OID is already installed.
func (dm *DataModel) Install(o *Object) *lwm2merr.Result {
	if dm.Find(o.OID) != nil {
		return lwm2merr.New(lwm2merr.InvalidArg)
	}
	if len(dm.objects) >= dm.maxObjects {
		return lwm2merr.New(lwm2merr.NoSpace)
	}
	dm.objects = append(dm.objects, o)
	return nil
}

func (dm *DataModel) Find(oid uint16) *Object {
	for _, o := range dm.objects {
		if o.OID == oid {
			return o
		}
	}
	return nil
}

func (dm *DataModel) Objects() []*Object { return dm.objects }

// Begin starts a new operation. Re-entrant Begin (while inProgress) fails
// with Logic, per §4.4: "Only ONE operation is in progress at a time;
// re-entrant begin fails with LOGIC."
func (dm *DataModel) Begin(op Op, isBootstrap bool, basePath Path) *lwm2merr.Result {
	if dm.inProgress {
		return lwm2merr.New(lwm2merr.Logic)
	}
	dm.inProgress = true
	dm.op = op
	dm.isBootstrap = isBootstrap
	dm.basePath = basePath
	dm.touched = dm.touched[:0]
	return nil
}

// touch calls TransactionBegin on o exactly once for the lifetime of the
// current transaction (§4.4: "subsequent operations within the same
// transaction must not re-call it").
func (dm *DataModel) touch(o *Object, iid uint16) {
	for _, seen := range dm.touched {
		if seen == o {
			return
		}
	}
	dm.touched = append(dm.touched, o)
	o.Handler.TransactionBegin(iid)
}

// silentIgnoreAllowed reports whether writing to an unresolved path should
// be silently ignored rather than erroring, per §4.4: during a
// bootstrap-scoped write, an unknown optional resource is always
// ignored; during a non-bootstrap write, only when the base path targets
// an object or object instance (not a specific resource).
func (dm *DataModel) silentIgnoreAllowed(targetDepth int) bool {
	if dm.isBootstrap {
		return true
	}
	return dm.basePath.Depth() <= 2 && targetDepth >= 3
}

// WriteEntry writes one data-model entry (a path + value) within the
// current transaction, implementing WRITE_REPLACE / WRITE_PARTIAL_UPDATE /
// WRITE_COMP semantics and the bootstrap auto-create / silent-ignore
// rules of §4.4.
func (dm *DataModel) WriteEntry(path Path, chunk Chunk, value Value) *lwm2merr.Result {
	if !dm.inProgress {
		return lwm2merr.New(lwm2merr.Logic)
	}
	obj := dm.Find(path.OID)
	if obj == nil {
		if dm.silentIgnoreAllowed(path.Depth()) {
			return nil
		}
		return lwm2merr.New(lwm2merr.NotFound)
	}

	inst := obj.FindInstance(path.IID)
	if inst == nil {
		if dm.isBootstrap && path.HasInstance() {
			// "writing to a non-existent instance shall create it"
			if err := obj.Handler.CreateInstance(path.IID); err != nil {
				return err
			}
			newInst := NewInstance(path.IID, obj.ResourceDescs, defaultRIIDCapacity)
			if err := obj.InsertInstance(newInst); err != nil {
				return err
			}
			inst = newInst
		} else if dm.isBootstrap {
			return nil
		} else {
			return lwm2merr.New(lwm2merr.NotFound)
		}
	}
	dm.touch(obj, path.IID)

	if path.IsInstance() {
		// WRITE_REPLACE at instance granularity: inst_reset is mandatory.
		if dm.op == OpWriteReplace {
			if err := obj.Handler.InstanceReset(path.IID); err != nil {
				return err
			}
		}
		return nil // the caller drives per-resource WriteEntry calls next
	}

	desc, ok := inst.ResourceDesc(path.RID)
	if !ok {
		if dm.silentIgnoreAllowed(path.Depth()) {
			return nil
		}
		return lwm2merr.New(lwm2merr.NotFound)
	}
	if !desc.Kind.Writable() {
		return lwm2merr.New(lwm2merr.MethodNotAllowed)
	}

	if desc.Kind.Multi() {
		if path.HasResourceInstance() {
			if dm.op == OpWriteReplace && !dm.partialWriteSeenOnResource(path.Resource()) {
				// First write seen for this resource within a REPLACE:
				// clear pre-existing RIIDs in ascending order (§4.4),
				// then start accepting the new ones.
				desc.clearRIIDs()
				dm.markPartialWriteSeen(path.Resource())
			}
			if value.Type == TypeNone {
				// §8 boundary behavior: a NULL at a resource-instance
				// path deletes that instance.
				desc.removeRIID(path.RIID)
				return nil
			}
			if !desc.insertRIID(path.RIID) {
				return lwm2merr.New(lwm2merr.NoSpace)
			}
			return obj.Handler.WriteResourceInstance(path.IID, path.RID, path.RIID, chunk)
		}
		// A multi-instance resource written without a resource-instance
		// component carries a map of id->value in the payload; the caller
		// is expected to expand that into per-RIID WriteEntry calls, so a
		// bare resource-level entry here is a malformed request.
		return lwm2merr.New(lwm2merr.InvalidArg)
	}

	return obj.Handler.WriteResource(path.IID, path.RID, chunk)
}

// partialWriteSeen tracks, within one transaction, which multi-instance
// resources have already had their pre-existing RIIDs cleared for a
// REPLACE, so a multi-chunk/multi-entry write doesn't re-clear on every
// call.
func (dm *DataModel) partialWriteSeenOnResource(resPath Path) bool {
	for _, seen := range dm.replaceClearedResources {
		if seen == resPath {
			return true
		}
	}
	return false
}

func (dm *DataModel) markPartialWriteSeen(resPath Path) {
	dm.replaceClearedResources = append(dm.replaceClearedResources, resPath)
}

const defaultRIIDCapacity = 8

// CreateInstance implements the CREATE operation.
func (dm *DataModel) CreateInstance(oid, iid uint16) *lwm2merr.Result {
	if !dm.inProgress {
		return lwm2merr.New(lwm2merr.Logic)
	}
	obj := dm.Find(oid)
	if obj == nil {
		return lwm2merr.New(lwm2merr.NotFound)
	}
	if obj.FindInstance(iid) != nil {
		return lwm2merr.New(lwm2merr.InvalidArg)
	}
	dm.touch(obj, iid)
	if err := obj.Handler.CreateInstance(iid); err != nil {
		return err
	}
	return obj.InsertInstance(NewInstance(iid, obj.ResourceDescs, defaultRIIDCapacity))
}

// DeleteInstance implements the DELETE operation.
func (dm *DataModel) DeleteInstance(path Path) *lwm2merr.Result {
	if !dm.inProgress {
		return lwm2merr.New(lwm2merr.Logic)
	}
	obj := dm.Find(path.OID)
	if obj == nil {
		return lwm2merr.New(lwm2merr.NotFound)
	}
	if path.HasInstance() {
		if obj.FindInstance(path.IID) == nil {
			return lwm2merr.New(lwm2merr.NotFound)
		}
		dm.touch(obj, path.IID)
		if err := obj.Handler.DeleteInstance(path.IID); err != nil {
			return err
		}
		obj.RemoveInstance(path.IID)
		return nil
	}
	// Deleting a whole object: delete every instance.
	for _, inst := range append([]*Instance(nil), obj.Instances...) {
		dm.touch(obj, inst.IID)
		if err := obj.Handler.DeleteInstance(inst.IID); err != nil {
			return err
		}
		obj.RemoveInstance(inst.IID)
	}
	return nil
}

// Validate calls TransactionValidate on every touched object, per §4.4.
func (dm *DataModel) Validate() *lwm2merr.Result {
	if !dm.inProgress {
		return lwm2merr.New(lwm2merr.Logic)
	}
	for _, obj := range dm.touched {
		for _, inst := range obj.Instances {
			if err := obj.Handler.TransactionValidate(inst.IID); err != nil {
				return err
			}
		}
		if len(obj.Instances) == 0 {
			if err := obj.Handler.TransactionValidate(InvalidID); err != nil {
				return err
			}
		}
	}
	return nil
}

// End commits (success) or rolls back (failure) every touched object's
// staged data, per §4.4, and clears the in-progress transaction state so
// Begin may be called again.
func (dm *DataModel) End(success bool) {
	outcome := TransactionSuccess
	if !success {
		outcome = TransactionFailure
	}
	for _, obj := range dm.touched {
		for _, inst := range obj.Instances {
			obj.Handler.TransactionEnd(inst.IID, outcome)
		}
		if len(obj.Instances) == 0 {
			obj.Handler.TransactionEnd(InvalidID, outcome)
		}
	}
	dm.inProgress = false
	dm.touched = dm.touched[:0]
	dm.replaceClearedResources = dm.replaceClearedResources[:0]
}

// Execute invokes an executable resource. Stands alone (not part of a
// staged transaction, per §4.4's method list).
func (dm *DataModel) Execute(path Path, arg []byte) *lwm2merr.Result {
	obj := dm.Find(path.OID)
	if obj == nil {
		return lwm2merr.New(lwm2merr.NotFound)
	}
	inst := obj.FindInstance(path.IID)
	if inst == nil {
		return lwm2merr.New(lwm2merr.NotFound)
	}
	desc, ok := inst.ResourceDesc(path.RID)
	if !ok || !desc.Kind.Executable() {
		return lwm2merr.New(lwm2merr.MethodNotAllowed)
	}
	return obj.Handler.Execute(path.IID, path.RID, arg)
}

// ReadValue reads the current committed value at a fully-specified
// resource or resource-instance path.
func (dm *DataModel) ReadValue(path Path) (Value, *lwm2merr.Result) {
	obj := dm.Find(path.OID)
	if obj == nil {
		return Value{}, lwm2merr.New(lwm2merr.NotFound)
	}
	inst := obj.FindInstance(path.IID)
	if inst == nil {
		return Value{}, lwm2merr.New(lwm2merr.NotFound)
	}
	desc, ok := inst.ResourceDesc(path.RID)
	if !ok || !desc.Kind.Readable() {
		return Value{}, lwm2merr.New(lwm2merr.MethodNotAllowed)
	}
	return obj.Handler.ReadValue(path.IID, path.RID, path.RIID)
}

// Visitor is called once per resource or resource-instance path visited
// by Iterate, in depth-first, ascending-id order.
type Visitor func(path Path, desc *ResourceDescriptor) *lwm2merr.Result

// Iterate walks the data model under basePath for READ/DISCOVER,
// depth-first in ascending id order, invoking visit once per leaf
// reached (a whole resource for single-instance resources, or once per
// resource-instance for multi-instance ones plus once for the resource
// itself to cover DISCOVER's need to see the resource as well as its
// instances).
func (dm *DataModel) Iterate(basePath Path, visit Visitor) *lwm2merr.Result {
	for _, obj := range dm.objects {
		if basePath.Depth() >= 1 && obj.OID != basePath.OID {
			continue
		}
		for _, inst := range obj.Instances {
			if basePath.Depth() >= 2 && inst.IID != basePath.IID {
				continue
			}
			for i := range inst.Resources {
				desc := &inst.Resources[i]
				if basePath.Depth() >= 3 && desc.RID != basePath.RID {
					continue
				}
				if !desc.Kind.Readable() && !desc.Kind.Executable() {
					continue
				}
				resPath := ResourcePath(obj.OID, inst.IID, desc.RID)
				if desc.Kind.Multi() {
					if basePath.Depth() == 4 {
						if _, ok := desc.hasRIID(basePath.RIID); !ok {
							continue
						}
						if err := visit(ResourceInstancePath(obj.OID, inst.IID, desc.RID, basePath.RIID), desc); err != nil {
							return err
						}
						continue
					}
					if err := visit(resPath, desc); err != nil {
						return err
					}
					for _, riid := range desc.RIIDs {
						if err := visit(ResourceInstancePath(obj.OID, inst.IID, desc.RID, riid), desc); err != nil {
							return err
						}
					}
				} else {
					if err := visit(resPath, desc); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// InProgress reports whether a transaction is currently open (used by the
// engine to guard against issuing a second server-side request while one
// is being processed, per §5).
func (dm *DataModel) InProgress() bool { return dm.inProgress }

// resourceType resolves the declared ValueType for a fully-specified
// resource or resource-instance path, used by the built-in Plain Text
// codec to parse an incoming write's raw bytes back into a typed Value.
func (dm *DataModel) resourceType(path Path) (ValueType, bool) {
	obj := dm.Find(path.OID)
	if obj == nil {
		return 0, false
	}
	inst := obj.FindInstance(path.IID)
	if inst == nil {
		return 0, false
	}
	desc, ok := inst.ResourceDesc(path.RID)
	if !ok {
		return 0, false
	}
	return desc.Type, true
}
