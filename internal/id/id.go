// Package id generates identifiers for physical indices and rebuild jobs.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// physicalAlphabet keeps generated suffixes valid inside a lowercase index name.
const (
	physicalAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	physicalSize     = 12
)

// Physical creates a unique physical index name for a logical alias.
// Format: alias-suffix (e.g., "external-4f1k2m9z0qpx").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Physical(alias string) (string, error) {
	suffix, err := gonanoid.Generate(physicalAlphabet, physicalSize)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return alias + "-" + suffix, nil
}

// MustPhysical is like Physical but panics if ID generation fails.
func MustPhysical(alias string) string {
	name, err := Physical(alias)
	if err != nil {
		panic(fmt.Sprintf("failed to generate physical index name: %v", err))
	}
	return name
}

// Job returns a token identifying one rebuild run in logs and reports.
func Job() string {
	return uuid.NewString()
}
