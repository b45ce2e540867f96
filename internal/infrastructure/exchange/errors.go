package exchange

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies connector failures; the session turns each into a reconnect,
// a retry or a skipped record.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindStaleConnection
	KindProtocol
	KindRateLimit
	KindUpstreamServer
	KindDataValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStaleConnection:
		return "stale_connection"
	case KindProtocol:
		return "protocol"
	case KindRateLimit:
		return "rate_limit"
	case KindUpstreamServer:
		return "upstream_server"
	case KindDataValidation:
		return "data_validation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrTransport       = errors.New("transport error")
	ErrStaleConnection = errors.New("stale connection")
	ErrProtocol        = errors.New("protocol error")
	ErrRateLimit       = errors.New("rate limited")
	ErrUpstreamServer  = errors.New("upstream server error")
	ErrDataValidation  = errors.New("data validation error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindStaleConnection:
		return ErrStaleConnection
	case KindProtocol:
		return ErrProtocol
	case KindRateLimit:
		return ErrRateLimit
	case KindUpstreamServer:
		return ErrUpstreamServer
	case KindDataValidation:
		return ErrDataValidation
	}
	return nil
}

type Error struct {
	Kind     Kind
	Exchange string
	Op       string
	Status   int // HTTP status when the failure came from a REST call or handshake
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Exchange, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func NewError(kind Kind, exchange, op string, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, 0 if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusError classifies a non-2xx HTTP response.
func StatusError(exchange, op string, status int, body []byte) *Error {
	kind := KindTransport
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		kind = KindRateLimit
	case status >= 500:
		kind = KindUpstreamServer
	case status >= 400:
		kind = KindDataValidation
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return &Error{Kind: kind, Exchange: exchange, Op: op, Status: status, Err: fmt.Errorf("%s", body)}
}

// isUnreachable reports DNS failures and refused connections.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
