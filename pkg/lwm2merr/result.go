// Package lwm2merr defines the tagged-result vocabulary every fallible
// core entry point returns, per the error handling design in SPEC_FULL.md
// §7/§10.2.
package lwm2merr

import "fmt"

// Kind is a closed taxonomy of failure categories. Unlike one sentinel
// error per failure, every Result carries exactly one Kind so callers can
// switch on it without an errors.Is chain per sentinel.
type Kind int

const (
	// Input/usage errors.
	InvalidArg Kind = iota
	NoSpace
	NotAllowed
	InProgress
	Logic

	// Transport errors.
	WouldBlock
	Again
	Network
	MsgSize
	NotConnected

	// Protocol errors.
	Timeout
	InvalidResponse
	CoAPError
	ETagMismatch
	Rejected

	// Local errors.
	Internal
	Memory

	// Termination.
	Terminated
	Abort
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "INVALID_ARG"
	case NoSpace:
		return "NO_SPACE"
	case NotAllowed:
		return "NOT_ALLOWED"
	case InProgress:
		return "IN_PROGRESS"
	case Logic:
		return "LOGIC"
	case WouldBlock:
		return "WOULDBLOCK"
	case Again:
		return "AGAIN"
	case Network:
		return "NETWORK"
	case MsgSize:
		return "MSGSIZE"
	case NotConnected:
		return "NOT_CONNECTED"
	case Timeout:
		return "TIMEOUT"
	case InvalidResponse:
		return "INVALID_RESPONSE"
	case CoAPError:
		return "COAP_ERROR"
	case ETagMismatch:
		return "ETAG_MISMATCH"
	case Rejected:
		return "REJECTED"
	case Internal:
		return "INTERNAL"
	case Memory:
		return "MEMORY"
	case Terminated:
		return "TERMINATED"
	case Abort:
		return "ABORT"
	}
	if name, ok := extraNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Result is the tagged result every core entry point that can fail
// returns. It implements error so it composes with errors.Is/errors.As
// and %w wrapping.
type Result struct {
	Kind Kind

	// CoAPCode holds the numeric CoAP response class.detail (e.g. 0x84 for
	// 4.04) when Kind == CoAPError.
	CoAPCode byte

	// Cause is an optional wrapped lower-level error (e.g. a net.Error
	// surfaced from the network adapter).
	Cause error
}

// New builds a Result with no wrapped cause.
func New(kind Kind) *Result {
	return &Result{Kind: kind}
}

// Wrap builds a Result wrapping a lower-level cause.
func Wrap(kind Kind, cause error) *Result {
	return &Result{Kind: kind, Cause: cause}
}

// CoAP builds a COAP_ERROR result carrying the peer's response code.
func CoAP(code byte) *Result {
	return &Result{Kind: CoAPError, CoAPCode: code}
}

func (r *Result) Error() string {
	if r == nil {
		return "<nil result>"
	}
	if r.Kind == CoAPError {
		if r.Cause != nil {
			return fmt.Sprintf("%s %d.%02d: %v", r.Kind, r.CoAPCode>>5, r.CoAPCode&0x1f, r.Cause)
		}
		return fmt.Sprintf("%s %d.%02d", r.Kind, r.CoAPCode>>5, r.CoAPCode&0x1f)
	}
	if r.Cause != nil {
		return fmt.Sprintf("%s: %v", r.Kind, r.Cause)
	}
	return r.Kind.String()
}

func (r *Result) Unwrap() error {
	if r == nil {
		return nil
	}
	return r.Cause
}

// Is reports whether err is a *Result with the same Kind (and, for
// CoAPError, the same code; a target whose CoAPCode is 0 matches any
// code). This lets callers write
// errors.Is(err, lwm2merr.New(lwm2merr.Timeout)).
func (r *Result) Is(target error) bool {
	other, ok := target.(*Result)
	if !ok || other == nil || r == nil {
		return false
	}
	if r.Kind != other.Kind {
		return false
	}
	if r.Kind == CoAPError && other.CoAPCode != 0 {
		return r.CoAPCode == other.CoAPCode
	}
	return true
}

// IsWouldBlock reports whether err signals the "would block" sentinel,
// which §6/§7 require callers to treat distinctly from a hard error.
func IsWouldBlock(err error) bool {
	r, ok := err.(*Result)
	return ok && r != nil && (r.Kind == WouldBlock || r.Kind == Again)
}

// CoAPCodeForDispatcherError maps the data-model dispatcher's error taxonomy (§4.4) to
// the CoAP response code a server-side handler must reply with.
func CoAPCodeForDispatcherError(k Kind) byte {
	switch k {
	case NotFound:
		return 0x84 // 4.04
	case Unauthorized:
		return 0x81 // 4.01
	case InvalidArg:
		return 0x80 // 4.00 Bad Request
	case MethodNotAllowed:
		return 0x85 // 4.05
	case NotImplemented:
		return 0xA1 // 5.01
	case Memory:
		return 0xA0 // 5.00
	default:
		return 0xA0 // 5.00 Internal Server Error
	}
}

// The dispatcher-specific kinds referenced by CoAPCodeForDispatcherError;
// declared here (rather than reusing the generic taxonomy above 1:1) so
// the §4.4 error table is visible as a self-contained set at the call
// site, per spec.md's explicit table.
const (
	NotFound Kind = 100 + iota
	Unauthorized
	MethodNotAllowed
	NotImplemented
)

func init() {
	// Extend String() for the dispatcher-specific kinds without
	// duplicating the switch above; a small side table keeps Kind.String
	// total without reshuffling the iota block.
	extraNames[NotFound] = "NOT_FOUND"
	extraNames[Unauthorized] = "UNAUTHORIZED"
	extraNames[MethodNotAllowed] = "METHOD_NOT_ALLOWED"
	extraNames[NotImplemented] = "NOT_IMPLEMENTED"
}

var extraNames = map[Kind]string{}
