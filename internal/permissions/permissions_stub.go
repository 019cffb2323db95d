//go:build !darwin

package permissions

import "github.com/rs/zerolog"

// EnsureMicrophone is a no-op on platforms without a microphone permission
// model.
func EnsureMicrophone(zerolog.Logger) error {
	return nil
}
