package lwm2m

import (
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

// Attrs holds the write-attribute set a server may install on a path
// (§4.5): the plain period bounds, and the optional numeric triggers.
// Attributes not explicitly set on a path are inherited from the nearest
// ancestor path that has them (object -> instance -> resource).
type Attrs struct {
	HasPmin bool
	Pmin    time.Duration
	HasPmax bool
	Pmax    time.Duration
	HasGt   bool
	Gt      float64
	HasLt   bool
	Lt      float64
	HasStep bool
	Step    float64
	// Epmin/Epmax bound the interval even in the absence of a value
	// change, independent of Pmin/Pmax (§4.5).
	HasEpmin bool
	Epmin    time.Duration
	HasEpmax bool
	Epmax    time.Duration
}

// writeAttrEntry is one stored attribute set keyed by server + path.
type writeAttrEntry struct {
	valid bool
	ssid  uint16
	path  Path
	attrs Attrs
}

// Observation is one active RFC 7641 subscription.
type Observation struct {
	valid    bool
	ssid     uint16
	path     Path
	token    coap.TokenValue
	seq      uint32
	lastSent time.Time
	lastVal  Value
	confirm  bool // next notification must be Confirmable (24h rule, §4.5)
}

// ObserveManager owns the fixed-capacity write-attribute and observation
// tables, and decides when a path's active observation is due a
// notification.
//
// Grounded on consumer.addSourceReadyForDraining/PollFetches's "mark
// ready, drain on poll" pattern, generalized to "which (server,path)
// pairs are observed, and when are they next due" (DESIGN.md).
type ObserveManager struct {
	attrs         []writeAttrEntry
	observations  []Observation
	maxAttrs      int
	maxObs        int
}

func NewObserveManager(maxObservations, maxWriteAttrs int) *ObserveManager {
	return &ObserveManager{
		attrs:        make([]writeAttrEntry, 0, maxWriteAttrs),
		observations: make([]Observation, 0, maxObservations),
		maxAttrs:     maxWriteAttrs,
		maxObs:       maxObservations,
	}
}

// SetAttrs installs or replaces the attribute set for (ssid, path).
func (m *ObserveManager) SetAttrs(ssid uint16, path Path, attrs Attrs) *lwm2merr.Result {
	for i := range m.attrs {
		if m.attrs[i].valid && m.attrs[i].ssid == ssid && m.attrs[i].path == path {
			m.attrs[i].attrs = attrs
			return nil
		}
	}
	if len(m.attrs) >= m.maxAttrs {
		return lwm2merr.New(lwm2merr.NoSpace)
	}
	m.attrs = append(m.attrs, writeAttrEntry{valid: true, ssid: ssid, path: path, attrs: attrs})
	return nil
}

// EffectiveAttrs resolves the attribute set in force at path for ssid,
// inheriting from the nearest set ancestor for each field independently
// (§4.5: "attributes not set at a given level are inherited from the
// level above, field by field").
func (m *ObserveManager) EffectiveAttrs(ssid uint16, path Path) Attrs {
	var out Attrs
	for depth := 1; depth <= path.Depth(); depth++ {
		var p Path
		switch depth {
		case 1:
			p = path.Object()
		case 2:
			p = path.Instance()
		case 3:
			p = path.Resource()
		default:
			p = path
		}
		for i := range m.attrs {
			if !m.attrs[i].valid || m.attrs[i].ssid != ssid || m.attrs[i].path != p {
				continue
			}
			a := m.attrs[i].attrs
			if a.HasPmin {
				out.HasPmin, out.Pmin = true, a.Pmin
			}
			if a.HasPmax {
				out.HasPmax, out.Pmax = true, a.Pmax
			}
			if a.HasGt {
				out.HasGt, out.Gt = true, a.Gt
			}
			if a.HasLt {
				out.HasLt, out.Lt = true, a.Lt
			}
			if a.HasStep {
				out.HasStep, out.Step = true, a.Step
			}
			if a.HasEpmin {
				out.HasEpmin, out.Epmin = true, a.Epmin
			}
			if a.HasEpmax {
				out.HasEpmax, out.Epmax = true, a.Epmax
			}
		}
	}
	return out
}

// Start installs a new observation, failing with NoSpace if the fixed
// table is full or InvalidArg if (ssid, path) is already observed.
func (m *ObserveManager) Start(ssid uint16, path Path, token coap.TokenValue, now time.Time) *lwm2merr.Result {
	for i := range m.observations {
		if m.observations[i].valid && m.observations[i].ssid == ssid && m.observations[i].path == path {
			return lwm2merr.New(lwm2merr.InvalidArg)
		}
	}
	if len(m.observations) >= m.maxObs {
		return lwm2merr.New(lwm2merr.NoSpace)
	}
	m.observations = append(m.observations, Observation{
		valid: true, ssid: ssid, path: path, token: token, lastSent: now,
	})
	return nil
}

// Cancel removes the observation for (ssid, path), if any.
func (m *ObserveManager) Cancel(ssid uint16, path Path) {
	for i := range m.observations {
		if m.observations[i].valid && m.observations[i].ssid == ssid && m.observations[i].path == path {
			m.observations[i] = Observation{}
		}
	}
}

// CancelUnder removes every observation whose path lies at or below
// removed (called when the dispatcher deletes an instance/object that an
// observation targets).
func (m *ObserveManager) CancelUnder(removed Path) {
	for i := range m.observations {
		if m.observations[i].valid && removed.Contains(m.observations[i].path) {
			m.observations[i] = Observation{}
		}
	}
}

// Active returns every live observation.
func (m *ObserveManager) Active() []Observation {
	out := make([]Observation, 0, len(m.observations))
	for _, o := range m.observations {
		if o.valid {
			out = append(out, o)
		}
	}
	return out
}

// Due reports whether observation o should fire a
// notification now, given newVal, per §4.5's trigger policy:
// pmax always fires after pmax elapses regardless of value change;
// otherwise a change satisfying gt/lt/step (when set) fires no sooner
// than pmin; with no numeric triggers set, any change fires no sooner
// than pmin.
func (m *ObserveManager) Due(o *Observation, attrs Attrs, newVal Value, now time.Time) bool {
	elapsed := now.Sub(o.lastSent)
	if attrs.HasPmax && elapsed >= attrs.Pmax {
		return true
	}
	if attrs.HasEpmax && elapsed >= attrs.Epmax {
		return true
	}
	minWait := time.Duration(0)
	if attrs.HasPmin {
		minWait = attrs.Pmin
	}
	if elapsed < minWait {
		return false
	}
	changed := !valueEqual(o.lastVal, newVal)
	if !changed {
		if attrs.HasEpmin && elapsed >= attrs.Epmin && attrs.HasEpmax {
			return true
		}
		return false
	}
	if num, ok := newVal.Numeric(); ok {
		if attrs.HasGt && num <= attrs.Gt {
			return false
		}
		if attrs.HasLt && num >= attrs.Lt {
			return false
		}
		if prev, ok2 := o.lastVal.Numeric(); ok2 && attrs.HasStep {
			if abs(num-prev) < attrs.Step {
				return false
			}
		}
	}
	return true
}

// Notify records that o fired at now with newVal, advancing its sequence
// number and deciding whether the next notification must be Confirmable:
// RFC 7641 §4 requires at least one Confirmable notification every 24h
// even if nothing would otherwise force one.
func (m *ObserveManager) Notify(o *Observation, newVal Value, now time.Time) coap.Type {
	o.seq = coap.NextObserveSeq(o.seq)
	msgType := coap.NonConfirmable
	if o.confirm || now.Sub(o.lastSent) >= 24*time.Hour {
		msgType = coap.Confirmable
		o.confirm = false
	}
	o.lastSent = now
	o.lastVal = newVal
	return msgType
}

func valueEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false // "unset" baseline vs any real value always counts as changed
	}
	switch a.Type {
	case TypeInt, TypeTime:
		return a.Int == b.Int
	case TypeUint:
		return a.Uint == b.Uint
	case TypeFloat:
		return a.Float == b.Float
	case TypeBool:
		return a.Bool == b.Bool
	case TypeString:
		return a.Str == b.Str
	case TypeOpaque:
		return string(a.Opaque) == string(b.Opaque)
	case TypeObjectLink:
		return a.Link == b.Link
	default:
		return true
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
