package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	msisdnPattern = regexp.MustCompile(`^09\d{8}$`)
	otpPattern    = regexp.MustCompile(`^\d{4,6}$`)
)

func ValidateMSISDN(msisdn string) error {
	if !msisdnPattern.MatchString(strings.TrimSpace(msisdn)) {
		return fmt.Errorf("ValidateMSISDN: %q: %w", msisdn, ErrInvalidMSISDN)
	}
	return nil
}

func ValidateOTP(otp string) error {
	if !otpPattern.MatchString(strings.TrimSpace(otp)) {
		return fmt.Errorf("ValidateOTP: %w", ErrInvalidOTP)
	}
	return nil
}

// ParsePointAmount parses user-entered point amounts. Only positive whole
// numbers are accepted.
func ParsePointAmount(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("ParsePointAmount: %q: %w", raw, ErrInvalidAmount)
	}
	return n, nil
}
