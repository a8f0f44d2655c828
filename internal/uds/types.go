// Package uds implements a subset of ISO 14229 Unified Diagnostic Services:
// session control, security access, DID read/write, routine control,
// download/transfer, DTC services, and tester present.
package uds

import "time"

// Session is a UDS diagnostic session type.
type Session byte

const (
	SessionDefault     Session = 0x01
	SessionProgramming Session = 0x02
	SessionExtended    Session = 0x03
	SessionSafety      Session = 0x04
)

func validSession(b byte) bool {
	switch Session(b) {
	case SessionDefault, SessionProgramming, SessionExtended, SessionSafety:
		return true
	default:
		return false
	}
}

// SecurityLevel is the unlock level a client has reached via service 0x27.
type SecurityLevel byte

const (
	SecurityLocked SecurityLevel = 0x00
	SecurityLevel1 SecurityLevel = 0x01
	SecurityLevel2 SecurityLevel = 0x02
)

// S3Timeout is the server-side session timeout (ISO 14229's "S3 server").
const S3Timeout = 5 * time.Second

const maxSecurityAttempts = 3

// seedKeyXOR is the (intentionally simple, simulation-only) seed/key
// algorithm: key = seed ^ seedKeyXOR.
const seedKeyXOR = 0x12345678

// Negative response codes this package returns.
const (
	nrcServiceNotSupported      = 0x11
	nrcSubFunctionNotSupported  = 0x12
	nrcIncorrectMessageLength   = 0x13
	nrcRequestSequenceError     = 0x24
	nrcRequestOutOfRange        = 0x31
	nrcSecurityAccessDenied     = 0x33
	nrcInvalidKey               = 0x35
	nrcExceedNumberOfAttempts   = 0x36
	nrcServiceNotSupportedInSession = 0x7F
)

func negResponse(service, nrc byte) []byte {
	return []byte{0x7F, service, nrc}
}
