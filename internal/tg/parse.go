package tg

import (
	"errors"
	"regexp"
	"strings"

	"github.com/pvzzle/tokenpanel/internal/ledger"
)

var (
	reEthAddr = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)

	ErrAmount       = errors.New("Amount must be greater than 0")
	ErrAddressUsage = errors.New("Expected: <address> <amount>")
)

func IsEthAddress(s string) bool {
	s = strings.TrimSpace(s)
	return reEthAddr.MatchString(s)
}

// ParseAmount accepts "1.5" or "1,5" and requires a positive number. The
// normalized text is what the session gets.
func ParseAmount(s string) (string, error) {
	d, err := ledger.ParseDecimal(s)
	if err != nil {
		return "", ErrAmount
	}
	return d.String(), nil
}

// ParseAddressAmount splits "<address> <amount>". The address is passed
// through as typed; the operation itself rejects malformed ones.
func ParseAddressAmount(s string) (addr, amount string, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", "", ErrAddressUsage
	}
	amount, err = ParseAmount(fields[1])
	if err != nil {
		return "", "", err
	}
	return fields[0], amount, nil
}

// commandArgs drops the leading "/command" (and any "@botname") from text.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}
