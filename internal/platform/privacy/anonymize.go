// Package privacy reduces client identifiers to values that are safe to keep in logs
// and in the issuance ledger.
package privacy

import (
	"net/netip"
	"strings"
)

const (
	ipv4KeepBits = 24
	ipv6KeepBits = 48
)

// AnonymizeIP masks the host part of an address. IPv4 keeps the /24 network
// ("192.168.1.47" -> "192.168.1.0"), IPv6 keeps the /48 prefix
// ("2001:db8:85a3::8a2e:370:7334" -> "2001:db8:85a3::").
//
// Returns "unknown" for empty input and "invalid" for anything unparseable.
func AnonymizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := ipv6KeepBits
	if addr.Is4() {
		bits = ipv4KeepBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// TruncateDID keeps the method and the first characters of a DID's identifier so log
// lines stay correlatable without carrying the full subject identifier.
func TruncateDID(did string) string {
	const keep = 16
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" {
		return "invalid"
	}
	id := parts[2]
	if len(id) <= keep {
		return did
	}
	return parts[0] + ":" + parts[1] + ":" + id[:keep] + "..."
}
