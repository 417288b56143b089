package tls

import "crypto/tls"

// ParseVersion maps a version string to the TLS version constant.
// Unknown or empty strings default to TLS 1.2.
func ParseVersion(v string) uint16 {
	switch v {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
