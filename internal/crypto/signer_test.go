package crypto

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key; its address is public.
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testChainID = 57073
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return n
}

func vectorSender(t *testing.T) [32]byte {
	t.Helper()
	sub, err := EncodeSubaccount("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", "default")
	require.NoError(t, err)
	return sub
}

func vectorOrder(t *testing.T) OrderMessage {
	return OrderMessage{
		Sender:     vectorSender(t),
		PriceX18:   mustBig(t, "3000500000000000000000"),
		Amount:     mustBig(t, "-50000000000000000"),
		Expiration: 1700003600000,
		Nonce:      1782579210485772345,
		Appendix:   big.NewInt(513),
	}
}

func TestNewSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	_, err = NewSigner("not-hex", testChainID)
	assert.Error(t, err)
	_, err = NewSigner(testKey, 0)
	assert.Error(t, err)
}

func TestOrderDigestVector(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	digest, err := s.OrderDigest(vectorOrder(t), 4)
	require.NoError(t, err)
	assert.Equal(t, "4674c4f3d94e7aafb3270d3c7e217a9b5c7b3cb40a9c1e2fc57dd229c536422d", hex.EncodeToString(digest))
}

func TestCancellationDigestVector(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	var d1, d2 [32]byte
	for i := range d1 {
		d1[i], d2[i] = 0x11, 0x22
	}
	msg := CancellationMessage{
		Sender:     vectorSender(t),
		ProductIDs: []uint32{4, 2},
		Digests:    [][32]byte{d1, d2},
		Nonce:      1782579220971532345,
	}

	digest, err := s.CancellationDigest(msg, common.HexToAddress("0x05ec92d78ed421f3d3ada77ffde167106565974e"))
	require.NoError(t, err)
	assert.Equal(t, "2ef102a05b13d1f9c3b5d15d68324c4cbbfdc71d09716ca3a322ad352423e6db", hex.EncodeToString(digest))

	// An unresolved endpoint signs against the product-0 address.
	digest, err = s.CancellationDigest(msg, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "39a83fc46d93eb1319e3119655d45095b858ff7abb8ea408876e3abdb6944926", hex.EncodeToString(digest))

	msg.ProductIDs = msg.ProductIDs[:1]
	_, err = s.CancellationDigest(msg, common.Address{})
	assert.Error(t, err)
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)
	msg := vectorOrder(t)

	sig1, err := s.SignOrder(msg, 4)
	require.NoError(t, err)
	sig2, err := s.SignOrder(msg, 4)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2, "RFC6979 signatures are deterministic")

	assert.True(t, strings.HasPrefix(sig1, "0x"))
	raw, err := hex.DecodeString(sig1[2:])
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	digest, err := s.OrderDigest(msg, 4)
	require.NoError(t, err)
	got, err := RecoverAddress(digest, sig1)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// A different product is a different domain.
	other, err := s.OrderDigest(msg, 2)
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestSignCancellationRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)
	endpoint := common.HexToAddress("0x05ec92d78ed421f3d3ada77ffde167106565974e")
	msg := CancellationMessage{Sender: vectorSender(t), Nonce: 7}

	sig, err := s.SignCancellation(msg, endpoint)
	require.NoError(t, err)
	digest, err := s.CancellationDigest(msg, endpoint)
	require.NoError(t, err)
	got, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
}

func TestOrderRangeChecks(t *testing.T) {
	s, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	msg := vectorOrder(t)
	msg.Amount = new(big.Int).Lsh(big.NewInt(1), 127)
	_, err = s.SignOrder(msg, 4)
	assert.Error(t, err)

	msg = vectorOrder(t)
	msg.Appendix = big.NewInt(-1)
	_, err = s.SignOrder(msg, 4)
	assert.Error(t, err)

	msg = vectorOrder(t)
	msg.PriceX18 = nil
	_, err = s.SignOrder(msg, 4)
	assert.Error(t, err)
}

func TestProductAddress(t *testing.T) {
	assert.Equal(t, "0x0000000000000000000000000000000000000004", strings.ToLower(ProductAddress(4).Hex()))
	assert.Equal(t, common.Address{}, ProductAddress(0))
	assert.Equal(t, "0x0000000000000000000000000000000000000122", strings.ToLower(ProductAddress(290).Hex()))
}

func TestParseDigest(t *testing.T) {
	h := strings.Repeat("ab", 32)
	a, err := ParseDigest("0x" + h)
	require.NoError(t, err)
	b, err := ParseDigest(h)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = ParseDigest("0x1234")
	assert.Error(t, err)
}

func TestEncodeSubaccount(t *testing.T) {
	lower, err := EncodeSubaccount("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", "default")
	require.NoError(t, err)
	mixed, err := EncodeSubaccount("0x2C7536E3605D9c16A7A3D7B1898E529396A65C23", "default")
	require.NoError(t, err)
	noPrefix, err := EncodeSubaccount("2c7536E3605D9C16a7a3D7b1898e529396a65c23", "default")
	require.NoError(t, err)

	assert.Equal(t, lower, mixed)
	assert.Equal(t, lower, noPrefix)
	assert.Equal(t, "2c7536e3605d9c16a7a3d7b1898e529396a65c2364656661756c740000000000", SubaccountHex(lower))

	_, err = EncodeSubaccount("0x2c75", "default")
	assert.Error(t, err)
	_, err = EncodeSubaccount("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", "thirteen-char")
	assert.Error(t, err)
	_, err = EncodeSubaccount("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", "dé")
	assert.Error(t, err)

	full, err := EncodeSubaccount("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", "abcdefghijkl")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", string(full[20:]))
}

func TestBuildAppendix(t *testing.T) {
	tests := []struct {
		name string
		opts AppendixOptions
		want int64
	}{
		{"limit", AppendixOptions{}, 1},
		{"ioc", AppendixOptions{OrderType: 1}, 1 | 1<<9},
		{"fok", AppendixOptions{OrderType: 2}, 1 | 2<<9},
		{"post only", AppendixOptions{OrderType: 3}, 1 | 3<<9},
		{"isolated", AppendixOptions{Isolated: true}, 1 | 1<<8},
		{"reduce only ioc", AppendixOptions{ReduceOnly: true, OrderType: 1}, 1 | 1<<9 | 1<<11},
		{"twap trigger", AppendixOptions{Trigger: TriggerTWAP}, 1 | 2<<12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.opts.Validate())
			assert.Equal(t, tt.want, BuildAppendix(tt.opts).Int64())
		})
	}

	assert.Error(t, AppendixOptions{OrderType: 4}.Validate())
	assert.Error(t, AppendixOptions{Trigger: 4}.Validate())
}

func TestNonceSource(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	src := NonceSource{Clock: func() time.Time { return now }, ForwardOffset: OrderNonceOffset, Tag: 12345}

	assert.Equal(t, uint64(1700000010000)<<20+12345, src.Nonce(0))
	assert.Equal(t, uint64(1700000011000)<<20+12345, src.Nonce(1))
	assert.Equal(t, uint64(1700003600000), src.Expiration())

	cancel := NonceSource{Clock: func() time.Time { return now }, ForwardOffset: CancelNonceOffset, Tag: 12345}
	assert.Equal(t, uint64(1700000020000)<<20+12345, cancel.Nonce(0))
}
