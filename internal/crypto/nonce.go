package crypto

import "time"

const (
	// OrderNonceOffset pushes order nonces ahead of the venue clock to absorb
	// skew and latency. Widen it if stale-nonce rejections show up.
	OrderNonceOffset  = 10 * time.Second
	CancelNonceOffset = 20 * time.Second
	// OrderExpiry is how long a signed order stays valid.
	OrderExpiry = time.Hour
	nonceTag    = 12345
)

// NonceSource derives time-based nonces and expirations.
type NonceSource struct {
	Clock         func() time.Time
	ForwardOffset time.Duration
	Tag           uint64
}

// NewNonceSource returns a source with the given forward offset, the
// default tag and the wall clock.
func NewNonceSource(offset time.Duration) NonceSource {
	return NonceSource{Clock: time.Now, ForwardOffset: offset, Tag: nonceTag}
}

func (n NonceSource) now() time.Time {
	if n.Clock == nil {
		return time.Now()
	}
	return n.Clock()
}

// Nonce returns ((now + offset + index seconds) in ms << 20) + tag. Orders
// in a batch pass their index so each gets a distinct nonce.
func (n NonceSource) Nonce(index int) uint64 {
	at := n.now().Add(n.ForwardOffset + time.Duration(index)*time.Second)
	return uint64(at.UnixMilli())<<20 + n.Tag
}

// Expiration returns now + OrderExpiry in unix milliseconds.
func (n NonceSource) Expiration() uint64 {
	return uint64(n.now().Add(OrderExpiry).UnixMilli())
}
