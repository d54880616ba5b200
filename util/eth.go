package util

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// NormalizeEthAddress validates an external-chain address and returns its
// EIP-55 checksummed form.
func NormalizeEthAddress(addr string) (string, error) {

	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", errors.Errorf("'%s' is not a valid ethereum address", addr)
	}

	return common.HexToAddress(addr).Hex(), nil
}

func IsValidEthAddress(addr string) bool {
	_, err := NormalizeEthAddress(addr)
	return err == nil
}
