package config

import (
	"fmt"
	"strings"
)

const (
	BackendHTTP = "http"
	BackendCLI  = "cli"
)

// NormalizeBackend lower-cases and validates an engine backend name. An empty
// value selects the HTTP sidecar.
func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendHTTP
	}
	switch backend {
	case BackendHTTP, BackendCLI:
		return backend, nil
	case "sidecar":
		return BackendHTTP, nil
	case "pocket-tts":
		return BackendCLI, nil
	default:
		return "", fmt.Errorf(
			"invalid engine backend %q (expected %s|%s)",
			raw,
			BackendHTTP,
			BackendCLI,
		)
	}
}
