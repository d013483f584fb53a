package crypto

import (
	"fmt"
	"math/big"
)

// Appendix bit layout:
//
//	bits 0-7   version
//	bit  8     isolated margin
//	bits 9-10  order type
//	bit  11    reduce only
//	bits 12-13 trigger type
const (
	appendixVersion      = 1
	appendixIsolatedBit  = 8
	appendixTypeShift    = 9
	appendixReduceBit    = 11
	appendixTriggerShift = 12
)

// TriggerType selects conditional execution. Zero is a plain order.
type TriggerType uint8

const (
	TriggerNone TriggerType = iota
	TriggerPrice
	TriggerTWAP
	TriggerTWAPCustom
)

// AppendixOptions are the order flags packed into the appendix.
type AppendixOptions struct {
	ReduceOnly bool
	OrderType  uint8 // 0 limit, 1 IOC, 2 FOK, 3 post-only
	Isolated   bool
	Trigger    TriggerType
}

// Validate rejects values that do not fit their two-bit fields.
func (o AppendixOptions) Validate() error {
	if o.OrderType > 3 {
		return fmt.Errorf("crypto/appendix: order type %d out of range", o.OrderType)
	}
	if o.Trigger > 3 {
		return fmt.Errorf("crypto/appendix: trigger type %d out of range", o.Trigger)
	}
	return nil
}

// BuildAppendix packs o into the appendix integer. Callers validate first;
// out-of-range fields are masked to two bits.
func BuildAppendix(o AppendixOptions) *big.Int {
	v := uint64(appendixVersion)
	if o.Isolated {
		v |= 1 << appendixIsolatedBit
	}
	v |= uint64(o.OrderType&0x3) << appendixTypeShift
	if o.ReduceOnly {
		v |= 1 << appendixReduceBit
	}
	v |= uint64(o.Trigger&0x3) << appendixTriggerShift
	return new(big.Int).SetUint64(v)
}
