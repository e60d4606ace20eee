package lwm2m

import (
	"strconv"
	"strings"
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
)

// lwm2mVersion is the "lwm2m" Uri-Query value Register/Update advertise.
const lwm2mVersion = "1.1"

// ConnStatus is the externally-visible connection status (§6/§4.8).
type ConnStatus uint8

const (
	StatusInitial ConnStatus = iota
	StatusBootstrapping
	StatusRegistering
	StatusRegistered
	StatusQueueMode
	StatusSuspended
	StatusFailure
)

func (s ConnStatus) String() string {
	switch s {
	case StatusInitial:
		return "INITIAL"
	case StatusBootstrapping:
		return "BOOTSTRAPPING"
	case StatusRegistering:
		return "REGISTERING"
	case StatusRegistered:
		return "REGISTERED"
	case StatusQueueMode:
		return "QUEUE_MODE"
	case StatusSuspended:
		return "SUSPENDED"
	case StatusFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ConnStatusCallback is called on every connection-status transition.
type ConnStatusCallback func(ConnStatus)

// maxTransmitWait approximates CoAP's MAX_TRANSMIT_WAIT, the worst-case
// time a confirmable exchange might still be retrying, used to schedule
// the Update refresh ahead of lifetime expiry (§4.8).
func maxTransmitWait(p TxParams) time.Duration {
	return maxTransmitSpan(p) + p.MaxLatency
}

// ServerSession is the singleton per-server registration state of §3:
// endpoint identity, retry/queue-mode configuration, and the live
// connection/location-path state that Register/Update/Deregister update.
type ServerSession struct {
	EndpointName string
	Lifetime     time.Duration
	Binding      string
	QueueMode    bool

	status         ConnStatus
	locationPaths  []string
	disableUntil   time.Time
	hasDisableDeadline bool

	lastUpdateAt     time.Time
	nextScheduledAt  time.Time
	dataModelShapeID uint64 // changes whenever an object/instance is added/removed

	retryAttempt int
	retryAt      time.Time

	onStatus ConnStatusCallback
}

func NewServerSession(endpointName string, lifetime time.Duration, binding string, queueMode bool, onStatus ConnStatusCallback) *ServerSession {
	return &ServerSession{
		EndpointName: endpointName,
		Lifetime:     lifetime,
		Binding:      binding,
		QueueMode:    queueMode,
		status:       StatusInitial,
		onStatus:     onStatus,
	}
}

func (s *ServerSession) Status() ConnStatus { return s.status }

func (s *ServerSession) setStatus(status ConnStatus) {
	if s.status == status {
		return
	}
	s.status = status
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

// UpdateDeadline computes when the next scheduled Update is due, per
// §4.8: lifetime - MAX_TRANSMIT_WAIT, or lifetime/2 when the lifetime is
// too short for that margin to make sense.
func (s *ServerSession) UpdateDeadline(p TxParams, registeredAt time.Time) time.Time {
	wait := maxTransmitWait(p)
	margin := s.Lifetime - wait
	if s.Lifetime < 2*wait {
		margin = s.Lifetime / 2
	}
	return registeredAt.Add(margin)
}

// NotifyShapeChanged marks that the data model's registered shape
// (objects/instances present) has changed, forcing the next Update to
// carry a refreshed CoRE-Link payload rather than an empty one (§4.8).
func (s *ServerSession) NotifyShapeChanged() { s.dataModelShapeID++ }

// RegistrationDriver drives Register/Update/Deregister over one
// ServerSession, including retry back-off and queue-mode transitions.
//
// Grounded on cxn.sasl's retry-with-fallback loop and
// requestAPIVersions's downgrade-and-retry pattern, generalized to
// LwM2M's Register/Update/Deregister triad (DESIGN.md).
type RegistrationDriver struct {
	session *ServerSession
	params  TxParams

	retryCount   int
	retryTimeout time.Duration

	lastShapeSent uint64
	bootstrapOnRegistrationFailure bool
}

func NewRegistrationDriver(session *ServerSession, params TxParams, retryCount int, retryTimeout time.Duration) *RegistrationDriver {
	return &RegistrationDriver{
		session:                        session,
		params:                         params,
		retryCount:                     retryCount,
		retryTimeout:                   retryTimeout,
		bootstrapOnRegistrationFailure: true, // "default assumed true when absent" (§4.8)
	}
}

// NeedsUpdate reports whether a scheduled/triggered Update is due: the
// lifetime changed, the data-model shape changed, the server requested
// registration-update-trigger, or the scheduled refresh deadline passed.
func (d *RegistrationDriver) NeedsUpdate(now time.Time, lifetimeChanged, serverTriggered bool) bool {
	if d.session.status != StatusRegistered && d.session.status != StatusQueueMode {
		return false
	}
	if lifetimeChanged || serverTriggered {
		return true
	}
	return !d.session.nextScheduledAt.IsZero() && !now.Before(d.session.nextScheduledAt)
}

// ShapeChangedSinceLastUpdate reports whether the Update payload must
// carry a refreshed CoRE-Link description (§4.8: "Update omits payload
// when data-model shape has not changed").
func (d *RegistrationDriver) ShapeChangedSinceLastUpdate() bool {
	return d.lastShapeSent != d.session.dataModelShapeID
}

// OnRegisterSuccess records a successful Register: status->REGISTERED,
// location paths stored, retry counter reset, next Update scheduled.
func (d *RegistrationDriver) OnRegisterSuccess(locationPaths []string, now time.Time) {
	d.session.locationPaths = locationPaths
	d.session.setStatus(StatusRegistered)
	d.session.lastUpdateAt = now
	d.session.nextScheduledAt = d.session.UpdateDeadline(d.params, now)
	d.resetRetryCount()
	d.lastShapeSent = d.session.dataModelShapeID
}

func (d *RegistrationDriver) resetRetryCount() { d.session.retryAttempt = 0 }

// OnUpdateSuccess records a successful Update, rescheduling the next one.
func (d *RegistrationDriver) OnUpdateSuccess(now time.Time) {
	d.session.setStatus(StatusRegistered)
	d.session.lastUpdateAt = now
	d.session.nextScheduledAt = d.session.UpdateDeadline(d.params, now)
	d.resetRetryCount()
	d.lastShapeSent = d.session.dataModelShapeID
}

// OnUpdateFailure implements §4.8's degrade-to-Register rule: "a network
// error or 4.xx/5.xx response on Update degrades to full Register (new
// attempt counts against the retry budget)."
func (d *RegistrationDriver) OnUpdateFailure(now time.Time) RegisterOutcome {
	return d.OnRegisterFailure(now)
}

// RegisterOutcome tells the caller what to do after a failed
// Register/Update attempt.
type RegisterOutcome uint8

const (
	RegisterRetry RegisterOutcome = iota
	RegisterFallBackToBootstrap
	RegisterFail
)

// OnRegisterFailure walks the retry back-off; once exhausted it falls
// back to bootstrapping (when the server's bootstrap-on-registration
// -failure resource is true) or to FAILURE otherwise (§4.8).
func (d *RegistrationDriver) OnRegisterFailure(now time.Time) RegisterOutcome {
	d.session.retryAttempt++
	if d.session.retryAttempt <= d.retryCount {
		backoff := d.retryTimeout * time.Duration(1<<uint(d.session.retryAttempt-1))
		d.session.retryAt = now.Add(backoff)
		d.session.setStatus(StatusRegistering)
		return RegisterRetry
	}
	if d.bootstrapOnRegistrationFailure {
		d.session.setStatus(StatusBootstrapping)
		return RegisterFallBackToBootstrap
	}
	d.session.setStatus(StatusFailure)
	return RegisterFail
}

// SetBootstrapOnRegistrationFailure wires in the Server object's
// bootstrap-on-registration-failure resource (an external collaborator
// per §6; the driver only needs its boolean value).
func (d *RegistrationDriver) SetBootstrapOnRegistrationFailure(v bool) {
	d.bootstrapOnRegistrationFailure = v
}

// EnterQueueMode is called after queueModeTimeout of outbound inactivity
// while registered; the socket is closed without a Deregister (§4.8).
func (d *RegistrationDriver) EnterQueueMode() {
	if d.session.status == StatusRegistered {
		d.session.setStatus(StatusQueueMode)
	}
}

// LeaveQueueMode is called on any outbound event (Update, Send,
// Notification) while in queue mode, reopening the connection.
func (d *RegistrationDriver) LeaveQueueMode() {
	if d.session.status == StatusQueueMode {
		d.session.setStatus(StatusRegistered)
	}
}

// Disable implements server_obj_disable_executed/disable_server: send a
// Deregister (caller's responsibility to actually transmit it) and enter
// SUSPENDED for timeout (§4.8). A zero timeout means indefinite.
func (d *RegistrationDriver) Disable(now time.Time, timeout time.Duration) {
	d.session.setStatus(StatusSuspended)
	if timeout > 0 {
		d.session.hasDisableDeadline = true
		d.session.disableUntil = now.Add(timeout)
	} else {
		d.session.hasDisableDeadline = false
	}
}

// DisableDeadlinePassed reports whether a timed Disable should now end.
func (d *RegistrationDriver) DisableDeadlinePassed(now time.Time) bool {
	return d.session.status == StatusSuspended && d.session.hasDisableDeadline && !now.Before(d.session.disableUntil)
}

// Restart forces a clean return to INITIAL, to be followed by the caller
// issuing a fresh Deregister/bootstrap sequence.
func (d *RegistrationDriver) Restart() {
	d.session.setStatus(StatusInitial)
	d.resetRetryCount()
}

// OnDeregisterComplete always returns to INITIAL regardless of the
// Deregister's own success (§4.8 has no retry for Deregister itself).
func (d *RegistrationDriver) OnDeregisterComplete() {
	d.session.locationPaths = nil
	d.session.setStatus(StatusInitial)
}

// BuildRegister constructs the Register request (§4.1/§4.8): POST /rd
// carrying ep/lt/b/lwm2m (and Q when queue mode is requested) Uri-Query
// options and a CoRE-Link payload enumerating every installed
// object/instance.
func BuildRegister(session *ServerSession, dm *DataModel) coap.Message {
	var msg coap.Message
	msg.Type = coap.Confirmable
	msg.Code = coap.CodePOST
	msg.Opts.SetUriPath("/rd")
	msg.Opts.AddString(coap.OptionUriQuery, coap.QueryEndpointName+"="+session.EndpointName)
	msg.Opts.AddString(coap.OptionUriQuery, coap.QueryLifetime+"="+strconv.FormatInt(int64(session.Lifetime/time.Second), 10))
	msg.Opts.AddString(coap.OptionUriQuery, coap.QueryBinding+"="+session.Binding)
	msg.Opts.AddString(coap.OptionUriQuery, coap.QueryLwM2MVersion+"="+lwm2mVersion)
	if session.QueueMode {
		msg.Opts.AddString(coap.OptionUriQuery, coap.QueryQueueMode)
	}
	msg.Opts.AddUint(coap.OptionContentFormat, uint32(FormatCoreLink))
	msg.Payload = RenderCoreLink(dm, RootPath)
	return msg
}

// BuildUpdate constructs the Update request: POST to the stored
// Location-Path, omitting the Content-Format option and payload entirely
// when the data-model shape has not changed since the last successful
// Register/Update (§4.8).
func BuildUpdate(session *ServerSession, dm *DataModel, shapeChanged bool) coap.Message {
	var msg coap.Message
	msg.Type = coap.Confirmable
	msg.Code = coap.CodePOST
	msg.Opts.SetUriPath(locationPath(session))
	if shapeChanged {
		msg.Opts.AddUint(coap.OptionContentFormat, uint32(FormatCoreLink))
		msg.Payload = RenderCoreLink(dm, RootPath)
	}
	return msg
}

// BuildDeregister constructs the Deregister request: DELETE to the stored
// Location-Path (§4.8; the outcome is reported back unconditionally since
// there is no retry for Deregister itself).
func BuildDeregister(session *ServerSession) coap.Message {
	var msg coap.Message
	msg.Type = coap.Confirmable
	msg.Code = coap.CodeDELETE
	msg.Opts.SetUriPath(locationPath(session))
	return msg
}

func locationPath(session *ServerSession) string {
	if len(session.locationPaths) == 0 {
		return "/rd"
	}
	return "/" + strings.Join(session.locationPaths, "/")
}

// locationPathsFrom extracts the Location-Path segments a Register
// response carries, falling back to the well-known "rd" root when the
// server omitted them.
func locationPathsFrom(msg coap.Message) []string {
	var out []string
	for _, v := range msg.Opts.Get(coap.OptionLocationPath) {
		out = append(out, string(v))
	}
	if len(out) == 0 {
		return []string{"rd"}
	}
	return out
}
