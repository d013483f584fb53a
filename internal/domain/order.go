package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide accepts "buy"/"sell" in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToLower(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, s)
}

// Opposite returns the closing side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Sign is +1 for buys and -1 for sells; amounts on the wire are signed.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType is the execution policy packed into the order appendix.
type OrderType uint8

const (
	OrderTypeLimit    OrderType = 0
	OrderTypeIOC      OrderType = 1
	OrderTypeFOK      OrderType = 2
	OrderTypePostOnly OrderType = 3
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeIOC:
		return "ioc"
	case OrderTypeFOK:
		return "fok"
	case OrderTypePostOnly:
		return "post_only"
	}
	return fmt.Sprintf("order_type(%d)", uint8(t))
}

// FailureKind classifies why an order or cancel did not go through.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureTransport  FailureKind = "transport"
	FailureHTTPStatus FailureKind = "http_status"
	FailureMalformed  FailureKind = "malformed"
	FailureRejected   FailureKind = "rejected"
	FailureInvalid    FailureKind = "invalid"
)

// OrderResult is the outcome of a place or cancel submission.
// A failed result never carries a digest; use Accepted and Rejected.
type OrderResult struct {
	Success bool        `json:"success"`
	Digest  string      `json:"digest,omitempty"`
	Digests []string    `json:"digests,omitempty"`
	Message string      `json:"message,omitempty"`
	Failure FailureKind `json:"failure,omitempty"`
}

// Accepted builds a successful result. The first digest, if any, is the
// primary one.
func Accepted(digests ...string) OrderResult {
	r := OrderResult{Success: true}
	if len(digests) > 0 {
		r.Digest = digests[0]
		r.Digests = append([]string(nil), digests...)
	}
	return r
}

// Rejected builds a failed result.
func Rejected(kind FailureKind, msg string) OrderResult {
	if kind == FailureNone {
		kind = FailureRejected
	}
	return OrderResult{Success: false, Message: msg, Failure: kind}
}

// OrderInfo is a resting order as reported by the venue.
type OrderInfo struct {
	Digest    string          `json:"digest"`
	ProductID uint32          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"` // signed, negative for asks
}

// Side derives the order side from the sign of Amount.
func (o OrderInfo) Side() OrderSide {
	if o.Amount.IsNegative() {
		return OrderSideSell
	}
	return OrderSideBuy
}
