package domain

import "github.com/google/uuid"

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// ValidID reports whether s is a canonical UUID string. Callers use it to fail
// closed on malformed identifiers instead of sending them to the store.
func ValidID(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}
