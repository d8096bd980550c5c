package utils

import (
	"github.com/google/uuid"
)

// GenerateRunID generates a unique pipeline run ID
func GenerateRunID() string {
	return GenerateID("run")
}

// GenerateSessionID generates a unique stream session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
