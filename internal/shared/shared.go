package shared

import (
	"os"
	"strings"
)

const EnvGatewaySandboxMode = "PAYMENT_GATEWAY_SANDBOX"

// IsGatewaySandboxMode reports whether the in-process payment gateway is forced via environment variable.
func IsGatewaySandboxMode() bool {
	mode := strings.ToLower(os.Getenv(EnvGatewaySandboxMode))
	return mode == "true" || mode == "1"
}
