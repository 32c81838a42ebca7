package tool

import "github.com/google/uuid"

// GenerateUUIDV7 returns a time-ordered id for log rows and trace ids.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

