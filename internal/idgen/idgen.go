// Package idgen generates record identifiers and session join codes.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// NewID returns a random UUID string for sessions, records and audit entries.
func NewID() string {
	return uuid.NewString()
}

// JoinCode returns a numeric code of constants.JoinCodeLength digits.
func JoinCode() (string, error) {
	code, err := nanoid.Generate(constants.JoinCodeAlphabet, constants.JoinCodeLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return code, nil
}
