package tool

import "github.com/google/uuid"

// GenerateUUIDV7 returns a time-ordered uuid. V7 ids sort by creation time,
// which keeps ledger rows naturally ordered under the default index.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}
