package lwm2m

import (
	"crypto/rand"
	"time"

	"github.com/avsystem/lwm2m-client-go/pkg/coap"
	"github.com/avsystem/lwm2m-client-go/pkg/lwm2merr"
)

// Engine is the top-level value the host application owns: one
// management-server session plus an independent bootstrap sequence, a
// single active exchange, and the fixed-capacity tables every other file
// in this package implements. Built from functional Opts exactly like
// kgo.Client, and driven synchronously by Step instead of background
// goroutines (§5).
type Engine struct {
	cfg   *Config
	clock ClockAdapter
	net   NetworkAdapter

	dm            *DataModel
	cache         *ResponseCache
	observe       *ObserveManager
	sendQ         *SendQueue
	discoverCache *DiscoverCache

	session   *ServerSession
	regDriver *RegistrationDriver
	bootstrap *BootstrapDriver
	tokens    *tokenGenerator

	current           *Exchange
	pendingDeregister bool
}

// NewEngine wires every component together from cfg, deriving the fixed
// table capacities from the same Config knobs a host sets via Opts.
func NewEngine(net NetworkAdapter, clock ClockAdapter, endpointName string, opts ...Opt) (*Engine, error) {
	cfg := NewConfig(opts...)
	if clock == nil {
		clock = SystemClock()
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}

	discoverCache, err := NewDiscoverCache()
	if err != nil {
		return nil, err
	}

	session := NewServerSession(endpointName, 0, "U", cfg.queueModeEnabled, nil)
	e := &Engine{
		cfg:           cfg,
		clock:         clock,
		net:           net,
		dm:            NewDataModel(cfg.dmMaxObjectsNumber),
		cache:         NewResponseCache(cfg.cacheEntriesNumber, exchangeLifetime(cfg.udpTxParams)),
		observe:       NewObserveManager(cfg.observeMaxObservationsNumber, cfg.observeMaxWriteAttributesNumber),
		sendQ:         NewSendQueue(cfg.lwm2mSendQueueSize),
		discoverCache: discoverCache,
		session:       session,
		regDriver:     NewRegistrationDriver(session, cfg.udpTxParams, cfg.bootstrapRetryCount, cfg.bootstrapRetryTimeout),
		bootstrap:     NewBootstrapDriver(cfg.bootstrapRetryCount, cfg.bootstrapRetryTimeout, 1, cfg.bootstrapRetryTimeout, cfg.bootstrapTimeout),
		tokens:        newTokenGenerator(seed),
	}
	return e, nil
}

// DataModel exposes the installed-objects dispatcher so the host can
// Install objects before the first Step.
func (e *Engine) DataModel() *DataModel { return e.dm }

// SendQueue exposes the outbound report FIFO.
func (e *Engine) SendQueue() *SendQueue { return e.sendQ }

// Observe exposes the observation/write-attribute manager.
func (e *Engine) Observe() *ObserveManager { return e.observe }

// Session exposes the current server session's externally-visible state.
func (e *Engine) Session() *ServerSession { return e.session }

// StartRegistration transitions the session into the Register flow,
// called once bootstrap finishes (or immediately, if the device already
// holds provisioned Server object data) (§4.8).
func (e *Engine) StartRegistration() { e.session.setStatus(StatusRegistering) }

// Deregister requests a graceful Deregister on the next Step (§4.8).
func (e *Engine) Deregister() { e.pendingDeregister = true }

// Close releases resources the engine itself allocated (the zstd
// discover-cache codecs); the network adapter's own Close is the host's
// responsibility since the host constructed it.
func (e *Engine) Close() {
	e.discoverCache.Close()
}

// exchangePriority ranks the four mutually-exclusive client-initiated
// exchange sources per §5: "deregister > register/update > notification
// > send".
type exchangePriority uint8

const (
	priorityNone exchangePriority = iota
	prioritySend
	priorityNotification
	priorityRegisterUpdate
	priorityDeregister
)

// Step advances the engine by one non-blocking increment: it drains any
// ready inbound datagram, services the currently active exchange, and
// otherwise starts the highest-priority pending work. It returns as soon
// as an I/O call would block or there is nothing left to do this tick.
func (e *Engine) Step(now time.Time) *lwm2merr.Result {
	if e.current != nil {
		if resend, terminated := e.current.Step(now); resend {
			if err := e.sendCurrent(); err != nil {
				return err
			}
		} else if terminated {
			e.current = nil
		}
	}

	if e.net != nil {
		buf := make([]byte, e.cfg.inMsgBufferSize)
		n, err := e.net.Recv(buf)
		if err == nil {
			msg, decErr := coap.Decode(buf[:n])
			if decErr == nil {
				e.dispatchIncoming(*msg, now)
			}
		} else if !lwm2merr.IsWouldBlock(err) {
			return err
		}
	}

	if e.current == nil {
		e.startNextExchange(now)
		if e.current != nil {
			if err := e.sendCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchIncoming routes a decoded inbound message either to the
// currently active client exchange (a response) or treats it as a
// server-initiated request, consulting the response cache for a
// duplicate before touching the dispatcher (§4.1/§5).
func (e *Engine) dispatchIncoming(msg coap.Message, now time.Time) {
	if e.current != nil && e.current.Token().Equal(msg.Token) {
		if e.current.HandleIncoming(msg, now) {
			e.current = nil
		}
		return
	}
	if msg.Code.Class() != 0 {
		return // not a request code; stray/late response for a finished exchange
	}
	if len(msg.Opts) > e.cfg.coapMaxOptionsNumber {
		return // over the configured option cap: dropped without a response
	}
	e.dispatchServerRequest(msg, now)
}

// dispatchServerRequest answers one server-initiated request, consulting
// the response cache first so a duplicate of an already-answered or
// still-in-flight request never reaches the dispatcher twice (§4.3):
// HIT_RECENT replays the cached response byte-for-byte, HIT_NON_RECENT is
// silently dropped, and a MISS is handled fresh and then cached.
func (e *Engine) dispatchServerRequest(msg coap.Message, now time.Time) {
	if code, token, payload, res := e.cache.Lookup(msg.MsgID, now); res != CacheMiss {
		if res == CacheHitRecent {
			e.replayResponse(msg, code, token, payload)
		}
		return
	}
	resp := e.handleServerRequest(msg, now)
	e.cache.Put(msg.MsgID, msg.Token, resp.Code, resp.Payload, now)
	e.sendRaw(resp)
}

// handleServerRequest builds the response to one server-initiated
// request by routing it through DataModel (§4.4) according to its CoAP
// method and Uri-Path depth.
func (e *Engine) handleServerRequest(msg coap.Message, now time.Time) coap.Message {
	resp := coap.Message{Type: coap.Acknowledgement, MsgID: msg.MsgID, Token: msg.Token}
	path, ok := ParsePath(msg.Opts.UriPath())
	if !ok {
		resp.Code = coap.CodeBadRequest
		return resp
	}
	switch msg.Code {
	case coap.CodeGET:
		if accept, ok := msg.Opts.GetUint(coap.OptionAccept); ok && ContentFormat(accept) == FormatCoreLink {
			e.fillDiscover(&resp, path)
			return resp
		}
		if _, isObserve := msg.Opts.GetUint(coap.OptionObserve); isObserve {
			e.fillObserveStart(&resp, msg, path, now)
			return resp
		}
		e.fillRead(&resp, path)
	case coap.CodePUT:
		e.fillWrite(&resp, msg, path, OpWriteReplace)
	case coap.CodePOST:
		switch {
		case path.IsResource():
			e.fillExecute(&resp, path, msg.Payload)
		case path.IsInstance() && e.instanceMissing(path):
			e.fillCreate(&resp, path)
		default:
			e.fillWrite(&resp, msg, path, OpWritePartialUpdate)
		}
	case coap.CodeDELETE:
		e.fillDelete(&resp, path)
	default:
		resp.Code = coap.CodeNotImplemented
	}
	return resp
}

func (e *Engine) instanceMissing(path Path) bool {
	obj := e.dm.Find(path.OID)
	return obj != nil && obj.FindInstance(path.IID) == nil
}

func (e *Engine) fillRead(resp *coap.Message, path Path) {
	var entries []SendEntry
	err := e.dm.Iterate(path, func(p Path, desc *ResourceDescriptor) *lwm2merr.Result {
		v, rerr := e.dm.ReadValue(p)
		if rerr != nil {
			return rerr
		}
		entries = append(entries, SendEntry{Path: p, Value: v})
		return nil
	})
	if err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	if len(entries) == 0 {
		resp.Code = coap.CodeNotFound
		return
	}
	resp.Code = coap.CodeContent
	resp.Opts.AddUint(coap.OptionContentFormat, uint32(FormatText))
	resp.Payload = encodeEntries(entries)
}

func (e *Engine) fillObserveStart(resp *coap.Message, msg coap.Message, path Path, now time.Time) {
	v, err := e.dm.ReadValue(path)
	if err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	if serr := e.observe.Start(0, path, msg.Token, now); serr != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(serr.Kind))
		return
	}
	resp.Code = coap.CodeContent
	resp.Opts.AddUint(coap.OptionObserve, 0)
	resp.Opts.AddUint(coap.OptionContentFormat, uint32(FormatText))
	resp.Payload = encodeValue(v)
}

func (e *Engine) fillWrite(resp *coap.Message, msg coap.Message, path Path, op Op) {
	entries, ok := decodeEntries(msg.Payload, e.dm)
	if !ok {
		resp.Code = coap.CodeBadRequest
		return
	}
	if err := e.dm.Begin(op, false, path); err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	for _, ent := range entries {
		raw := encodeValue(ent.Value)
		chunk := Chunk{Data: raw, FullLengthHint: uint32(len(raw))}
		if err := e.dm.WriteEntry(ent.Path, chunk, ent.Value); err != nil {
			e.dm.End(false)
			resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
			return
		}
	}
	if err := e.dm.Validate(); err != nil {
		e.dm.End(false)
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	e.dm.End(true)
	resp.Code = coap.CodeChanged
}

func (e *Engine) fillCreate(resp *coap.Message, path Path) {
	if err := e.dm.Begin(OpCreate, false, path); err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	if err := e.dm.CreateInstance(path.OID, path.IID); err != nil {
		e.dm.End(false)
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	if err := e.dm.Validate(); err != nil {
		e.dm.End(false)
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	e.dm.End(true)
	e.session.NotifyShapeChanged()
	resp.Code = coap.CodeCreated
}

func (e *Engine) fillDelete(resp *coap.Message, path Path) {
	if err := e.dm.Begin(OpDelete, false, path); err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	if err := e.dm.DeleteInstance(path); err != nil {
		e.dm.End(false)
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	e.dm.End(true)
	e.observe.CancelUnder(path)
	e.session.NotifyShapeChanged()
	resp.Code = coap.CodeDeleted
}

func (e *Engine) fillExecute(resp *coap.Message, path Path, arg []byte) {
	if err := e.dm.Execute(path, arg); err != nil {
		resp.Code = coap.Code(lwm2merr.CoAPCodeForDispatcherError(err.Kind))
		return
	}
	resp.Code = coap.CodeChanged
}

// fillDiscover serves a Discover (or Bootstrap-Discover) request, reusing
// the zstd-compressed whole-tree snapshot in DiscoverCache when the
// request targets the root and the cached shape is still current (§4.7).
func (e *Engine) fillDiscover(resp *coap.Message, path Path) {
	resp.Code = coap.CodeContent
	resp.Opts.AddUint(coap.OptionContentFormat, uint32(FormatCoreLink))
	if path.Depth() > 0 {
		resp.Payload = RenderCoreLink(e.dm, path)
		return
	}
	if link, ok := e.discoverCache.Link(e.session.dataModelShapeID); ok {
		resp.Payload = link
		return
	}
	link := RenderCoreLink(e.dm, path)
	e.discoverCache.Snapshot(e.session.dataModelShapeID, link)
	resp.Payload = link
}

// replayResponse rebuilds and sends a cached HIT_RECENT response,
// byte-identical to what was originally returned for this request (§4.3).
func (e *Engine) replayResponse(req coap.Message, code coap.Code, token coap.TokenValue, payload []byte) {
	resp := coap.Message{Type: coap.Acknowledgement, MsgID: req.MsgID, Token: token, Code: code, Payload: payload}
	if len(payload) > 0 {
		resp.Opts.AddUint(coap.OptionContentFormat, uint32(FormatText))
	}
	e.sendRaw(resp)
}

func (e *Engine) sendRaw(msg coap.Message) {
	if e.net == nil {
		return
	}
	buf := make([]byte, e.cfg.outMsgBufferSize)
	n, err := coap.Encode(&msg, buf)
	if err != nil {
		return
	}
	e.net.Send(buf[:n])
}

// startNextExchange picks the highest-priority ready piece of work and
// arms e.current for it.
func (e *Engine) startNextExchange(now time.Time) {
	switch e.nextPriority(now) {
	case priorityDeregister:
		e.startDeregister(now)
	case priorityRegisterUpdate:
		e.startRegisterUpdate(now)
	case priorityNotification:
		e.startDueNotification(now)
	case prioritySend:
		e.startQueuedSend(now)
	}
}

func (e *Engine) nextPriority(now time.Time) exchangePriority {
	switch e.session.Status() {
	case StatusInitial, StatusBootstrapping, StatusSuspended, StatusFailure:
		return priorityNone
	}
	if e.pendingDeregister && (e.session.Status() == StatusRegistered || e.session.Status() == StatusQueueMode) {
		return priorityDeregister
	}
	if e.session.Status() == StatusRegistering {
		return priorityRegisterUpdate
	}
	if e.regDriver.NeedsUpdate(now, false, false) {
		return priorityRegisterUpdate
	}
	if e.earliestDueObservation(now) >= 0 {
		return priorityNotification
	}
	if e.sendQ.Eligible(e.session.Status(), false, false) {
		return prioritySend
	}
	return priorityNone
}

// armExchange stamps a fresh token/message id onto msg and starts tracking
// it as the engine's single in-flight exchange.
func (e *Engine) armExchange(msg coap.Message, onFinish CompletionFunc) {
	msg.Token = e.tokens.NextToken()
	msg.MsgID = e.tokens.NextMessageID()
	e.current = NewExchange(msg, e.cfg.udpTxParams, e.tokens.NextToken, onFinish, e.clock.MonotonicNow())
}

func (e *Engine) startRegisterUpdate(now time.Time) {
	if e.session.Status() == StatusRegistering {
		e.armExchange(BuildRegister(e.session, e.dm), e.onRegisterComplete)
		return
	}
	shapeChanged := e.regDriver.ShapeChangedSinceLastUpdate()
	e.armExchange(BuildUpdate(e.session, e.dm, shapeChanged), e.onUpdateComplete)
}

func (e *Engine) onRegisterComplete(resp *coap.Message, body []byte, err *lwm2merr.Result) {
	now := e.clock.MonotonicNow()
	if err != nil || resp == nil || resp.Code.IsError() {
		outcome := e.regDriver.OnRegisterFailure(now)
		if outcome == RegisterFallBackToBootstrap {
			e.bootstrap.Start(now)
		}
		return
	}
	e.regDriver.OnRegisterSuccess(locationPathsFrom(*resp), now)
}

func (e *Engine) onUpdateComplete(resp *coap.Message, body []byte, err *lwm2merr.Result) {
	now := e.clock.MonotonicNow()
	if err != nil || resp == nil || resp.Code.IsError() {
		outcome := e.regDriver.OnUpdateFailure(now)
		if outcome == RegisterFallBackToBootstrap {
			e.bootstrap.Start(now)
		}
		return
	}
	e.regDriver.OnUpdateSuccess(now)
}

func (e *Engine) startDeregister(now time.Time) {
	e.armExchange(BuildDeregister(e.session), e.onDeregisterComplete)
}

func (e *Engine) onDeregisterComplete(resp *coap.Message, body []byte, err *lwm2merr.Result) {
	e.pendingDeregister = false
	e.regDriver.OnDeregisterComplete()
}

// earliestDueObservation returns the index of the first observation that
// is due a notification right now, or -1 if none is.
func (e *Engine) earliestDueObservation(now time.Time) int {
	for i := range e.observe.observations {
		o := &e.observe.observations[i]
		if !o.valid {
			continue
		}
		v, err := e.dm.ReadValue(o.path)
		if err != nil {
			continue
		}
		attrs := e.observe.EffectiveAttrs(o.ssid, o.path)
		if e.observe.Due(o, attrs, v, now) {
			return i
		}
	}
	return -1
}

// startDueNotification arms the current exchange for the earliest-due
// observation, reading its current value and encoding it with the
// engine's built-in codec (§4.5).
func (e *Engine) startDueNotification(now time.Time) {
	idx := e.earliestDueObservation(now)
	if idx < 0 {
		return
	}
	o := &e.observe.observations[idx]
	v, err := e.dm.ReadValue(o.path)
	if err != nil {
		return
	}
	msgType := e.observe.Notify(o, v, now)

	var msg coap.Message
	msg.Type = msgType
	msg.Code = coap.CodeContent
	msg.Token = o.token
	msg.MsgID = e.tokens.NextMessageID()
	msg.Opts.AddUint(coap.OptionObserve, o.seq)
	msg.Opts.AddUint(coap.OptionContentFormat, uint32(FormatText))
	msg.Payload = encodeValue(v)

	ssid, path := o.ssid, o.path
	e.current = NewExchange(msg, e.cfg.udpTxParams, e.tokens.NextToken, func(resp *coap.Message, body []byte, cerr *lwm2merr.Result) {
		if cerr != nil && cerr.Kind == lwm2merr.Rejected {
			e.observe.Cancel(ssid, path)
		}
	}, now)
}

// startQueuedSend starts the next pending Send request, building its
// request body with the engine's built-in codec and arming it for
// transmission (§4.6).
func (e *Engine) startQueuedSend(now time.Time) {
	req, ok := e.sendQ.Start()
	if !ok {
		return
	}
	var msg coap.Message
	msg.Type = coap.Confirmable
	msg.Code = coap.CodePOST
	msg.Opts.SetUriPath("/dp")
	msg.Opts.AddUint(coap.OptionContentFormat, uint32(req.format))
	msg.Payload = encodeEntries(req.entries)
	e.armExchange(msg, e.onSendComplete)
}

func (e *Engine) onSendComplete(resp *coap.Message, body []byte, err *lwm2merr.Result) {
	switch {
	case err != nil && err.Kind == lwm2merr.Timeout:
		e.sendQ.Complete(SendTimeout)
	case err != nil && err.Kind == lwm2merr.Rejected:
		e.sendQ.Complete(SendRejected)
	case err != nil:
		e.sendQ.Complete(SendNetwork)
	case resp != nil && resp.Code.IsError():
		e.sendQ.Complete(SendRejected)
	default:
		e.sendQ.Complete(SendSuccess)
	}
}

func (e *Engine) sendCurrent() *lwm2merr.Result {
	if e.current == nil || e.net == nil {
		return nil
	}
	msg, ok := e.current.Outbox(e.clock.MonotonicNow())
	if !ok {
		return nil
	}
	buf := make([]byte, e.cfg.outMsgBufferSize)
	n, err := coap.Encode(&msg, buf)
	if err != nil {
		return lwm2merr.Wrap(lwm2merr.MsgSize, err)
	}
	if _, sendErr := e.net.Send(buf[:n]); sendErr != nil && !lwm2merr.IsWouldBlock(sendErr) {
		return sendErr
	}
	return nil
}

// NextStepTime returns the smallest positive duration until the engine
// next has scheduled work: the active exchange's deadline, the next
// registration refresh, the earliest observation pmax deadline, the
// bootstrap driver's next action time, or disable expiry (§4.9). With
// none of these scheduled it returns the configured exchange request
// timeout.
func (e *Engine) NextStepTime(now time.Time) time.Duration {
	best := time.Duration(-1)
	consider := func(at time.Time) {
		if at.IsZero() {
			return
		}
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		if best < 0 || d < best {
			best = d
		}
	}

	if e.current != nil {
		consider(e.current.Deadline())
	}
	consider(e.session.nextScheduledAt)
	for i := range e.observe.observations {
		o := &e.observe.observations[i]
		if !o.valid {
			continue
		}
		attrs := e.observe.EffectiveAttrs(o.ssid, o.path)
		if attrs.HasPmax {
			consider(o.lastSent.Add(attrs.Pmax))
		}
	}
	if e.bootstrap.State() != BootstrapIdle && e.bootstrap.State() != BootstrapFinished && e.bootstrap.State() != BootstrapFailed {
		consider(e.bootstrap.NextActionAt())
	}
	if e.session.hasDisableDeadline {
		consider(e.session.disableUntil)
	}

	if best < 0 {
		return e.cfg.exchangeRequestTimeout
	}
	return best
}
