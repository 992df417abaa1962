package cmd

import (
	"fmt"
	"strconv"
	"strings"

	securestore "github.com/coldvault/securestore"
)

// parseKey accepts a key as a 0x-prefixed or bare hex uint16, e.g.
// "0x8001" or "8001".
func parseKey(s string) (securestore.Key, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(digits, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return securestore.Key(v), nil
}

func parsePin(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid PIN %q: %w", s, err)
	}
	return uint32(v), nil
}
