package utils

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var nikPattern = regexp.MustCompile(`^\d{16}$`)

// IsEvmAddress checks whether s is a 0x-prefixed 20-byte hex address.
func IsEvmAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x")
}

// NormalizeAddress canonicalizes an EVM address to lowercase hex.
// Addresses are compared case-insensitively everywhere, so the store keeps
// one canonical form.
func NormalizeAddress(s string) string {
	if !common.IsHexAddress(s) {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.ToLower(common.HexToAddress(s).Hex())
}

// IsValidNIK checks the 16-digit national identity number format.
func IsValidNIK(s string) bool {
	return nikPattern.MatchString(s)
}

// MaxNameLength bounds the verified name field.
const MaxNameLength = 100

// HasDisallowedCharacters reports whether the name contains control or
// markup characters. Identity data is rejected rather than stripped so the
// stored name always equals what was verified.
func HasDisallowedCharacters(name string) bool {
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return true
		}
		switch r {
		case '<', '>', '&', '"', '\'', '`':
			return true
		}
	}
	return false
}

// IsValidName checks the verified name constraints.
func IsValidName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && len(name) <= MaxNameLength
}
