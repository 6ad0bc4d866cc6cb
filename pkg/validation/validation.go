package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PairingCodeRegex validates pairing code format
	PairingCodeRegex = regexp.MustCompile(`^[0-9]{4,8}$`)

	// PairIDRegex validates pending pair ID format
	PairIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidatePairingCode validates a pairing code
func ValidatePairingCode(code string) error {
	if code == "" {
		return fmt.Errorf("pairing code is required")
	}
	if !PairingCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid pairing code format (4-8 digits)")
	}
	return nil
}

// ValidatePairID validates a pending pair ID
func ValidatePairID(pairID string) error {
	if pairID == "" {
		return fmt.Errorf("pair ID is required")
	}
	if len(pairID) > 100 {
		return fmt.Errorf("pair ID is too long (max 100 characters)")
	}
	if !PairIDRegex.MatchString(pairID) {
		return fmt.Errorf("invalid pair ID format")
	}
	return nil
}

// ValidateSessionID validates a session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 100 {
		return fmt.Errorf("session ID is too long (max 100 characters)")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateDeviceName validates a device name announced during pairing
func ValidateDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("device name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("device name is too long (max 64 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("device name contains invalid characters")
	}
	return nil
}

// ValidatePort validates a network port value
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateMTU validates a media MTU value
func ValidateMTU(mtu int) error {
	if mtu < 21 {
		return fmt.Errorf("mtu must leave room for payload after the 20 byte header")
	}
	if mtu > 65507 {
		return fmt.Errorf("mtu exceeds maximum UDP payload")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
