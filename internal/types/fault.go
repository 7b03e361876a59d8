package types

import (
	"context"
	"errors"
	"fmt"
)

// FaultKind is the error taxonomy shared by the tool layer, the trace and
// the dashboard. Every error leaving a service maps onto exactly one kind.
type FaultKind string

const (
	FaultNotFound             FaultKind = "not_found"
	FaultInsufficientFunds    FaultKind = "insufficient_funds"
	FaultInsufficientHoldings FaultKind = "insufficient_holdings"
	FaultUpstreamUnavailable  FaultKind = "upstream_unavailable"
	FaultTimeout              FaultKind = "timeout"
	FaultInternal             FaultKind = "internal"
)

type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func Faultf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FaultFrom classifies err into the taxonomy. A Fault anywhere in the chain
// wins; context expiry maps to Timeout; anything else is Internal.
func FaultFrom(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Fault{Kind: FaultTimeout, Message: err.Error()}
	}
	return &Fault{Kind: FaultInternal, Message: err.Error()}
}

func KindOf(err error) FaultKind {
	if f := FaultFrom(err); f != nil {
		return f.Kind
	}
	return ""
}

func IsFault(err error, kind FaultKind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
