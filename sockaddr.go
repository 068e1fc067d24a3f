// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import "net/netip"

// Family identifies a [SocketAddress] variant.
type Family int

const (
	// FamilyUnspec matches either INET or INET6 during resolution.
	FamilyUnspec Family = iota
	FamilyINET
	FamilyINET6
	FamilyIPC
	FamilyINPROC
)

// String implements [fmt.Stringer].
func (f Family) String() string {
	switch f {
	case FamilyUnspec:
		return "unspec"
	case FamilyINET:
		return "inet"
	case FamilyINET6:
		return "inet6"
	case FamilyIPC:
		return "ipc"
	case FamilyINPROC:
		return "inproc"
	default:
		return "unknown"
	}
}

// SocketAddress is a tagged sum type over address families, modeled as a
// per-variant struct rather than a bag of optional fields.
//
// Exactly one of the accessor methods is meaningful for a given
// [SocketAddress], selected by [SocketAddress.Family].
type SocketAddress struct {
	family Family
	inet   netip.AddrPort // FamilyINET / FamilyINET6
	path   string         // FamilyIPC
	tag    string         // FamilyINPROC
}

// NewINETAddress returns an IPv4 [SocketAddress].
func NewINETAddress(ap netip.AddrPort) SocketAddress {
	return SocketAddress{family: FamilyINET, inet: ap}
}

// NewINET6Address returns an IPv6 [SocketAddress].
func NewINET6Address(ap netip.AddrPort) SocketAddress {
	return SocketAddress{family: FamilyINET6, inet: ap}
}

// NewIPCAddress returns a filesystem-path [SocketAddress].
func NewIPCAddress(path string) SocketAddress {
	return SocketAddress{family: FamilyIPC, path: path}
}

// NewINPROCAddress returns an in-process tag [SocketAddress].
func NewINPROCAddress(tag string) SocketAddress {
	return SocketAddress{family: FamilyINPROC, tag: tag}
}

// Family returns the address's variant tag.
func (a SocketAddress) Family() Family { return a.family }

// AddrPort returns the INET/INET6 payload. Valid only when Family is
// FamilyINET or FamilyINET6.
func (a SocketAddress) AddrPort() netip.AddrPort { return a.inet }

// Path returns the IPC payload. Valid only when Family is FamilyIPC.
func (a SocketAddress) Path() string { return a.path }

// Tag returns the INPROC payload. Valid only when Family is FamilyINPROC.
func (a SocketAddress) Tag() string { return a.tag }

// String renders the address for logging.
func (a SocketAddress) String() string {
	switch a.family {
	case FamilyINET, FamilyINET6:
		return a.inet.String()
	case FamilyIPC:
		return a.path
	case FamilyINPROC:
		return a.tag
	default:
		return "<invalid>"
	}
}
