// Package validation holds the field checks shared by the config loader and
// the command line.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrInvalidAddr  = errors.New("invalid address")
	ErrOutOfRange   = errors.New("value out of range")
	ErrNotDirectory = errors.New("not a directory")
)

// UDPAddr checks that addr is a host:port that resolves as a UDP address.
func UDPAddr(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidAddr, field)
	}
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidAddr, field, addr, err)
	}
	return nil
}

// Probability checks 0 <= p <= 1.
func Probability(field string, p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: %s=%v not in [0,1]", ErrOutOfRange, field, p)
	}
	return nil
}

// RangeInt checks min <= v <= max.
func RangeInt(field string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %s=%d not in [%d,%d]", ErrOutOfRange, field, v, min, max)
	}
	return nil
}

// Directory checks that path names an existing directory.
func Directory(field, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s %q", ErrNotDirectory, field, path)
	}
	return nil
}
