package runtime

import "os"

// Getenv returns the variable or fallback when it is unset or empty.
func Getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
