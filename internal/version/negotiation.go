package version

import "fmt"

// SMPPVersion represents an SMPP protocol version
type SMPPVersion uint8

const (
	// SMPPVersion33 represents SMPP v3.3
	SMPPVersion33 SMPPVersion = 0x33
	// SMPPVersion34 represents SMPP v3.4
	SMPPVersion34 SMPPVersion = 0x34
)

// String returns the string representation of the version
func (v SMPPVersion) String() string {
	switch v {
	case SMPPVersion33:
		return "3.3"
	case SMPPVersion34:
		return "3.4"
	default:
		return fmt.Sprintf("unknown (%02x)", uint8(v))
	}
}

// Normalize maps a raw interface_version onto the versions this engine
// speaks. Values up to 0x33 mean v3.3 or earlier; anything newer than v3.4
// is answered as v3.4.
func Normalize(raw uint8) SMPPVersion {
	if raw <= uint8(SMPPVersion33) {
		return SMPPVersion33
	}
	return SMPPVersion34
}

// SupportsOptionalParameters reports whether TLVs may be sent to a peer
// speaking v.
func (v SMPPVersion) SupportsOptionalParameters() bool {
	return v >= SMPPVersion34
}

// NegotiateVersion picks the highest version both sides support.
func NegotiateVersion(clientVersion, serverVersion SMPPVersion) SMPPVersion {
	c, s := Normalize(uint8(clientVersion)), Normalize(uint8(serverVersion))
	if c < s {
		return c
	}
	return s
}

// VersionNegotiator handles version negotiation
type VersionNegotiator struct {
	serverVersion SMPPVersion
}

// NewVersionNegotiator creates a negotiator for an SMSC advertising
// serverVersion. Zero selects v3.4.
func NewVersionNegotiator(serverVersion SMPPVersion) *VersionNegotiator {
	if serverVersion == 0 {
		serverVersion = SMPPVersion34
	}
	return &VersionNegotiator{serverVersion: Normalize(uint8(serverVersion))}
}

// Negotiate returns the version to report in bind_resp and whether the
// sc_interface_version TLV should be attached.
func (vn *VersionNegotiator) Negotiate(requested uint8) (SMPPVersion, bool) {
	v := NegotiateVersion(SMPPVersion(requested), vn.serverVersion)
	return v, Normalize(requested).SupportsOptionalParameters()
}

// ServerVersion returns the advertised version.
func (vn *VersionNegotiator) ServerVersion() SMPPVersion {
	return vn.serverVersion
}
