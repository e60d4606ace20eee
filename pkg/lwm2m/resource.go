package lwm2m

// ResourceKind enumerates the single/multi-instance, access-mode
// combinations spec.md §3 lists for resource descriptors.
type ResourceKind uint8

const (
	KindR   ResourceKind = iota // Read-only, single instance
	KindW                       // Write-only, single instance
	KindRW                      // Read/Write, single instance
	KindE                       // Executable
	KindRM                      // Read-only, multi-instance
	KindWM                      // Write-only, multi-instance
	KindRWM                     // Read/Write, multi-instance
)

func (k ResourceKind) Multi() bool {
	return k == KindRM || k == KindWM || k == KindRWM
}

func (k ResourceKind) Readable() bool {
	return k == KindR || k == KindRW || k == KindRM || k == KindRWM
}

func (k ResourceKind) Writable() bool {
	return k == KindW || k == KindRW || k == KindWM || k == KindRWM
}

func (k ResourceKind) Executable() bool { return k == KindE }

// ValueType is the wire-level type of a resource's value, independent of
// the content-format codec used to serialize it (§3).
type ValueType uint8

const (
	TypeNone ValueType = iota
	TypeInt
	TypeUint
	TypeFloat
	TypeBool
	TypeString
	TypeOpaque
	TypeObjectLink
	TypeTime
)

// ObjectLink is the (OID,IID) value type for object-link resources.
type ObjectLink struct {
	OID, IID uint16
}

// Value is a tagged union over the LwM2M primitive types. Only the field
// matching Type is meaningful.
type Value struct {
	Type   ValueType
	Int    int64
	Uint   uint64
	Float  float64
	Bool   bool
	Str    string
	Opaque []byte
	Link   ObjectLink
}

func IntValue(v int64) Value      { return Value{Type: TypeInt, Int: v} }
func UintValue(v uint64) Value    { return Value{Type: TypeUint, Uint: v} }
func FloatValue(v float64) Value  { return Value{Type: TypeFloat, Float: v} }
func BoolValue(v bool) Value      { return Value{Type: TypeBool, Bool: v} }
func StringValue(v string) Value  { return Value{Type: TypeString, Str: v} }
func OpaqueValue(v []byte) Value  { return Value{Type: TypeOpaque, Opaque: v} }
func LinkValue(oid, iid uint16) Value { return Value{Type: TypeObjectLink, Link: ObjectLink{oid, iid}} }
func TimeValue(v int64) Value     { return Value{Type: TypeTime, Int: v} }

// Numeric reports v as a float64 for step/gt/lt attribute comparisons
// (§4.5), and whether v is a numeric type at all.
func (v Value) Numeric() (float64, bool) {
	switch v.Type {
	case TypeInt, TypeTime:
		return float64(v.Int), true
	case TypeUint:
		return float64(v.Uint), true
	case TypeFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// ResourceDescriptor is the static shape of one resource within an
// instance's fixed-capacity resource array (§3).
type ResourceDescriptor struct {
	RID  uint16
	Kind ResourceKind
	Type ValueType

	// RIIDs holds the ordered set of present resource-instance ids for a
	// multi-instance resource. Fixed capacity, no dynamic allocation in
	// steady state (§3/§9); capacity is set by NewInstance.
	RIIDs []uint16
}

func (d *ResourceDescriptor) hasRIID(riid uint16) (int, bool) {
	for i, r := range d.RIIDs {
		if r == riid {
			return i, true
		}
	}
	return 0, false
}

// insertRIID inserts riid into RIIDs in ascending order if not already
// present (the "writes may insert" rule of §3), returning false if the
// fixed-capacity array is full.
func (d *ResourceDescriptor) insertRIID(riid uint16) bool {
	if _, ok := d.hasRIID(riid); ok {
		return true
	}
	if len(d.RIIDs) >= cap(d.RIIDs) {
		return false
	}
	d.RIIDs = append(d.RIIDs, riid)
	// keep ascending for deterministic iteration/discover ordering.
	for i := len(d.RIIDs) - 1; i > 0 && d.RIIDs[i] < d.RIIDs[i-1]; i-- {
		d.RIIDs[i], d.RIIDs[i-1] = d.RIIDs[i-1], d.RIIDs[i]
	}
	return true
}

// removeRIID deletes riid if present.
func (d *ResourceDescriptor) removeRIID(riid uint16) {
	i, ok := d.hasRIID(riid)
	if !ok {
		return
	}
	d.RIIDs = append(d.RIIDs[:i], d.RIIDs[i+1:]...)
}

// clearRIIDs deletes all resource instances, ascending, as required
// before a WRITE_REPLACE on a multi-instance resource (§4.4).
func (d *ResourceDescriptor) clearRIIDs() {
	d.RIIDs = d.RIIDs[:0]
}
