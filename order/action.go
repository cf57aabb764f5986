package order

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when an Action value is not one of the known variants.
var ErrUnknownAction = errors.New("unknown action")

// Kind names an Action variant.
type Kind string

const (
	KindClearOrders Kind = "ClearOrders"
	KindAddBid      Kind = "AddBid"
	KindAddAsk      Kind = "AddAsk"
	KindKeepBid     Kind = "KeepBid"
	KindKeepAsk     Kind = "KeepAsk"
)

// Action is a single step decided by a reconciler. The set of variants is closed:
// ClearOrders, AddBid, AddAsk, KeepBid and KeepAsk.
type Action interface {
	Kind() Kind
	action()
}

// ClearOrders cancels every resting order in the market.
type ClearOrders struct{}

// AddBid places a new bid.
type AddBid struct{ Request CreateOrderRequest }

// AddAsk places a new ask.
type AddAsk struct{ Request CreateOrderRequest }

// KeepBid records that the resting bid is left alone.
type KeepBid struct{ Request CreateOrderRequest }

// KeepAsk records that the resting ask is left alone.
type KeepAsk struct{ Request CreateOrderRequest }

func (ClearOrders) Kind() Kind { return KindClearOrders }
func (AddBid) Kind() Kind      { return KindAddBid }
func (AddAsk) Kind() Kind      { return KindAddAsk }
func (KeepBid) Kind() Kind     { return KindKeepBid }
func (KeepAsk) Kind() Kind     { return KindKeepAsk }

func (ClearOrders) action() {}
func (AddBid) action()      {}
func (AddAsk) action()      {}
func (KeepBid) action()     {}
func (KeepAsk) action()     {}

// NewAdd returns the Add variant for side.
func NewAdd(side Side, req CreateOrderRequest) Action {
	if side == Bid {
		return AddBid{Request: req}
	}
	return AddAsk{Request: req}
}

// NewKeep returns the Keep variant for side.
func NewKeep(side Side, req CreateOrderRequest) Action {
	if side == Bid {
		return KeepBid{Request: req}
	}
	return KeepAsk{Request: req}
}

// RequestOf returns the order request carried by a, if any.
func RequestOf(a Action) (CreateOrderRequest, bool) {
	switch v := a.(type) {
	case AddBid:
		return v.Request, true
	case AddAsk:
		return v.Request, true
	case KeepBid:
		return v.Request, true
	case KeepAsk:
		return v.Request, true
	}
	return CreateOrderRequest{}, false
}

// IsKeep reports whether a is KeepBid or KeepAsk.
func IsKeep(a Action) bool {
	switch a.(type) {
	case KeepBid, KeepAsk:
		return true
	}
	return false
}

// Describe renders an action for logs.
func Describe(a Action) string {
	if req, ok := RequestOf(a); ok {
		return fmt.Sprintf("%s(%s)", a.Kind(), req.Price)
	}
	return string(a.Kind())
}

type actionJSON struct {
	Type    Kind                `json:"type"`
	Request *CreateOrderRequest `json:"request,omitempty"`
}

func marshalAction(k Kind, req *CreateOrderRequest) ([]byte, error) {
	return json.Marshal(actionJSON{Type: k, Request: req})
}

func (a ClearOrders) MarshalJSON() ([]byte, error) { return marshalAction(a.Kind(), nil) }
func (a AddBid) MarshalJSON() ([]byte, error)      { return marshalAction(a.Kind(), &a.Request) }
func (a AddAsk) MarshalJSON() ([]byte, error)      { return marshalAction(a.Kind(), &a.Request) }
func (a KeepBid) MarshalJSON() ([]byte, error)     { return marshalAction(a.Kind(), &a.Request) }
func (a KeepAsk) MarshalJSON() ([]byte, error)     { return marshalAction(a.Kind(), &a.Request) }
