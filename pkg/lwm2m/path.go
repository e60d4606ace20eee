// Package lwm2m implements the core of an OMA LwM2M client: the
// connection life-cycle state machine, the CoAP exchange engine, the
// data-model dispatcher, the observation/notification scheduler, and the
// outbound Send queue (SPEC_FULL.md §2). It is modeled on kgo.Client's
// shape (a single Engine value built from functional options, with a
// logger hook and per-concern files) but driven synchronously by Step()
// instead of background goroutines, per §5's single-threaded cooperative
// concurrency contract.
package lwm2m

import "fmt"

// InvalidID is the sentinel marking an unset Path component (§3: "the
// sentinel 0xFFFF marks invalid").
const InvalidID uint16 = 0xFFFF

// Path is an ordered (OID, IID, RID, RIID) tuple identifying a location in
// the data model, 0 to 4 components deep. Paths are plain values, never
// owned references (§3).
type Path struct {
	OID, IID, RID, RIID uint16
}

// RootPath is the zero-depth path (the whole data model).
var RootPath = Path{InvalidID, InvalidID, InvalidID, InvalidID}

func ObjectPath(oid uint16) Path { return Path{oid, InvalidID, InvalidID, InvalidID} }

func InstancePath(oid, iid uint16) Path { return Path{oid, iid, InvalidID, InvalidID} }

func ResourcePath(oid, iid, rid uint16) Path { return Path{oid, iid, rid, InvalidID} }

func ResourceInstancePath(oid, iid, rid, riid uint16) Path { return Path{oid, iid, rid, riid} }

// Depth returns how many of the four components are set (0-4).
func (p Path) Depth() int {
	switch {
	case p.OID == InvalidID:
		return 0
	case p.IID == InvalidID:
		return 1
	case p.RID == InvalidID:
		return 2
	case p.RIID == InvalidID:
		return 3
	default:
		return 4
	}
}

func (p Path) HasInstance() bool         { return p.IID != InvalidID }
func (p Path) HasResource() bool         { return p.RID != InvalidID }
func (p Path) HasResourceInstance() bool { return p.RIID != InvalidID }

// IsObject / IsInstance / IsResource / IsResourceInstance classify a path
// by its exact depth, which the dispatcher uses to pick write/replace
// semantics (§4.4).
func (p Path) IsObject() bool           { return p.Depth() == 1 }
func (p Path) IsInstance() bool         { return p.Depth() == 2 }
func (p Path) IsResource() bool         { return p.Depth() == 3 }
func (p Path) IsResourceInstance() bool { return p.Depth() == 4 }

// Object strips the path down to its object component.
func (p Path) Object() Path { return ObjectPath(p.OID) }

// Instance strips the path down to its object+instance component.
func (p Path) Instance() Path { return InstancePath(p.OID, p.IID) }

// Resource strips the path down to its object+instance+resource component.
func (p Path) Resource() Path { return ResourcePath(p.OID, p.IID, p.RID) }

// Contains reports whether p is a prefix of other (e.g. an object path
// contains every instance/resource path under it). Used by the
// observation manager to cancel observations when their target is
// removed.
func (p Path) Contains(other Path) bool {
	d := p.Depth()
	if d >= 1 && (other.Depth() < 1 || p.OID != other.OID) {
		return false
	}
	if d >= 2 && (other.Depth() < 2 || p.IID != other.IID) {
		return false
	}
	if d >= 3 && (other.Depth() < 3 || p.RID != other.RID) {
		return false
	}
	if d >= 4 && (other.Depth() < 4 || p.RIID != other.RIID) {
		return false
	}
	return true
}

func (p Path) String() string {
	switch p.Depth() {
	case 0:
		return "/"
	case 1:
		return fmt.Sprintf("/%d", p.OID)
	case 2:
		return fmt.Sprintf("/%d/%d", p.OID, p.IID)
	case 3:
		return fmt.Sprintf("/%d/%d/%d", p.OID, p.IID, p.RID)
	default:
		return fmt.Sprintf("/%d/%d/%d/%d", p.OID, p.IID, p.RID, p.RIID)
	}
}

// ParsePath parses a "/"-separated numeric path such as "/3/0/2" or "/1".
func ParsePath(s string) (Path, bool) {
	p := RootPath
	if s == "" || s == "/" {
		return p, true
	}
	start := 0
	if s[0] == '/' {
		start = 1
	}
	var fields [4]uint16
	n := 0
	cur := uint32(0)
	have := false
	flush := func() bool {
		if !have {
			return true
		}
		if n >= 4 || cur > 0xFFFE {
			return false
		}
		fields[n] = uint16(cur)
		n++
		cur = 0
		have = false
		return true
	}
	for i := start; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			if i < len(s) && !have {
				return Path{}, false // empty segment, e.g. "/1//2"
			}
			if !flush() {
				return Path{}, false
			}
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return Path{}, false
		}
		cur = cur*10 + uint32(c-'0')
		have = true
	}
	for i := 0; i < 4; i++ {
		if i < n {
			switch i {
			case 0:
				p.OID = fields[i]
			case 1:
				p.IID = fields[i]
			case 2:
				p.RID = fields[i]
			case 3:
				p.RIID = fields[i]
			}
		}
	}
	return p, true
}
