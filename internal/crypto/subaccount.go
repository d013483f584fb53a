package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SubaccountLabelLen is the fixed width of the label half of a sub-account.
const SubaccountLabelLen = 12

// DefaultSubaccount is the label used when none is configured.
const DefaultSubaccount = "default"

// EncodeSubaccount packs a wallet address and an ASCII label into the
// venue's 32-byte sub-account identifier: 20 address bytes followed by the
// label right-padded with zeros to 12 bytes. Address case is irrelevant.
func EncodeSubaccount(address, label string) ([32]byte, error) {
	var out [32]byte
	if !common.IsHexAddress(address) {
		return out, fmt.Errorf("crypto/subaccount: invalid address %q", address)
	}
	if len(label) > SubaccountLabelLen {
		return out, fmt.Errorf("crypto/subaccount: label %q longer than %d bytes", label, SubaccountLabelLen)
	}
	for i := 0; i < len(label); i++ {
		if label[i] > 0x7f {
			return out, fmt.Errorf("crypto/subaccount: label %q is not ASCII", label)
		}
	}
	addr := common.HexToAddress(address)
	copy(out[:20], addr.Bytes())
	copy(out[20:], label)
	return out, nil
}

// SubaccountHex renders a sub-account as lower-case hex without 0x, the
// form the gateway expects in payloads and queries.
func SubaccountHex(sub [32]byte) string {
	return hex.EncodeToString(sub[:])
}
