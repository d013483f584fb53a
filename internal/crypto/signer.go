package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(bytes32 sender,int128 priceX18,int128 amount,uint64 expiration,uint64 nonce,uint128 appendix)"),
	)

	cancellationTypeHash = ethcrypto.Keccak256(
		[]byte("Cancellation(bytes32 sender,uint32[] productIds,bytes32[] digests,uint64 nonce)"),
	)
)

const (
	DomainName    = "Nado"
	DomainVersion = "0.0.1"
)

var (
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// OrderMessage is the six-field Order struct covered by the signature.
// Amount is signed: positive buys, negative sells.
type OrderMessage struct {
	Sender     [32]byte
	PriceX18   *big.Int
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
	Appendix   *big.Int
}

// CancellationMessage is the Cancellation struct covered by the signature.
type CancellationMessage struct {
	Sender     [32]byte
	ProductIDs []uint32
	Digests    [][32]byte
	Nonce      uint64
}

// Signer holds the private key and chain id and produces EIP-712
// signatures for Nado order and cancellation messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (57073 for Ink mainnet, 763373 for Ink Sepolia).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %d", chainID)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer binds signatures to.
func (s *Signer) ChainID() int64 {
	return s.chainID
}

// ProductAddress is the per-market verifying contract: the product id
// left-padded to 20 bytes.
func ProductAddress(productID uint32) common.Address {
	return common.BigToAddress(new(big.Int).SetUint64(uint64(productID)))
}

// OrderDigest returns the EIP-712 digest of msg under the product's domain.
func (s *Signer) OrderDigest(msg OrderMessage, productID uint32) ([]byte, error) {
	structHash, err := orderStructHash(msg)
	if err != nil {
		return nil, err
	}
	return eip712Hash(s.buildDomainSeparator(ProductAddress(productID)), structHash), nil
}

// SignOrder signs an Order for productID and returns the 65-byte signature
// as 0x-prefixed hex.
func (s *Signer) SignOrder(msg OrderMessage, productID uint32) (string, error) {
	digest, err := s.OrderDigest(msg, productID)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// CancellationDigest returns the EIP-712 digest of msg under the endpoint
// domain. A zero endpoint falls back to the product-0 address.
func (s *Signer) CancellationDigest(msg CancellationMessage, endpoint common.Address) ([]byte, error) {
	if len(msg.ProductIDs) != len(msg.Digests) {
		return nil, fmt.Errorf("crypto/signer: %d product ids for %d digests", len(msg.ProductIDs), len(msg.Digests))
	}
	if endpoint == (common.Address{}) {
		endpoint = ProductAddress(0)
	}
	return eip712Hash(s.buildDomainSeparator(endpoint), cancellationStructHash(msg)), nil
}

// SignCancellation signs a Cancellation against the venue-global endpoint.
func (s *Signer) SignCancellation(msg CancellationMessage, endpoint common.Address) (string, error) {
	digest, err := s.CancellationDigest(msg, endpoint)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// RecoverAddress returns the address that produced sigHex over digest.
func RecoverAddress(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns
// keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func (s *Signer) buildDomainSeparator(verifyingContract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(big.NewInt(s.chainID)),
			common.LeftPadBytes(verifyingContract.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o OrderMessage) ([]byte, error) {
	if o.PriceX18 == nil || o.Amount == nil {
		return nil, errors.New("crypto/signer: order price and amount are required")
	}
	if err := checkRange("priceX18", o.PriceX18, minInt128, maxInt128); err != nil {
		return nil, err
	}
	if err := checkRange("amount", o.Amount, minInt128, maxInt128); err != nil {
		return nil, err
	}
	appendix := o.Appendix
	if appendix == nil {
		appendix = new(big.Int)
	}
	if err := checkRange("appendix", appendix, new(big.Int), maxUint128); err != nil {
		return nil, err
	}

	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			o.Sender[:],
			int256Bytes(o.PriceX18),
			int256Bytes(o.Amount),
			bigIntTo32Bytes(new(big.Int).SetUint64(o.Expiration)),
			bigIntTo32Bytes(new(big.Int).SetUint64(o.Nonce)),
			bigIntTo32Bytes(appendix),
		),
	), nil
}

func cancellationStructHash(c CancellationMessage) []byte {
	ids := make([][]byte, 0, len(c.ProductIDs))
	for _, id := range c.ProductIDs {
		ids = append(ids, bigIntTo32Bytes(new(big.Int).SetUint64(uint64(id))))
	}
	digests := make([][]byte, 0, len(c.Digests))
	for i := range c.Digests {
		digests = append(digests, c.Digests[i][:])
	}

	// Dynamic arrays encode as the hash of their concatenated elements.
	return ethcrypto.Keccak256(
		concatBytes(
			cancellationTypeHash,
			c.Sender[:],
			ethcrypto.Keccak256(concatBytes(ids...)),
			ethcrypto.Keccak256(concatBytes(digests...)),
			bigIntTo32Bytes(new(big.Int).SetUint64(c.Nonce)),
		),
	)
}

func checkRange(field string, v, lo, hi *big.Int) error {
	if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
		return fmt.Errorf("crypto/signer: %s %s out of range", field, v)
	}
	return nil
}

// int256Bytes is the two's-complement 32-byte word for a signed integer.
func int256Bytes(n *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(n))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

// ParseDigest decodes a 32-byte order digest with or without 0x.
func ParseDigest(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return out, fmt.Errorf("crypto/signer: digest %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("crypto/signer: digest %q has %d bytes", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}
