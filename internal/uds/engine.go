package uds

import (
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/dtc"
)

// supportedDTCCodes returns up to n catalog codes in a stable order, used by
// service 0x19 sub-function 0x0A.
func supportedDTCCodes(n int) []string {
	codes := make([]string, 0, len(dtc.Catalog))
	for code := range dtc.Catalog {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if len(codes) > n {
		codes = codes[:n]
	}
	return codes
}

// Identity supplies the VIN/ECU-name values baked into the DID table.
type Identity struct {
	VIN     string
	ECUName string

	// ExtraDIDs adds to or overrides entries in the built-in DID table.
	ExtraDIDs map[uint16][]byte
}

// Engine is one ECU's UDS service handler: session/security state machine,
// DID table, I/O controls, and routine status, atop a shared DTC registry.
type Engine struct {
	clk      clock.Clock
	rng      *rand.Rand
	registry *dtc.Registry

	mu               sync.Mutex
	session          Session
	sessionStart     time.Time
	securityLevel    SecurityLevel
	currentSeed      uint32
	hasSeed          bool
	securityAttempts int
	dids             map[uint16][]byte
	ioControls       map[uint16]bool
	activeRoutines   map[uint16]string
}

// New builds an Engine in the default session, locked, with the stock DID
// table seeded from identity. rng drives seed generation for service 0x27;
// pass a seeded *rand.Rand for reproducible test runs.
func New(clk clock.Clock, rng *rand.Rand, registry *dtc.Registry, identity Identity) *Engine {
	return &Engine{
		clk:            clk,
		rng:            rng,
		registry:       registry,
		session:        SessionDefault,
		sessionStart:   clk.Now(),
		securityLevel:  SecurityLocked,
		dids:           mergeDIDs(defaultDIDs(identity.VIN, identity.ECUName), identity.ExtraDIDs),
		ioControls:     make(map[uint16]bool),
		activeRoutines: make(map[uint16]string),
	}
}

// Process answers one UDS service request; request[0] is the service ID.
// Returns nil if request is empty or the service suppresses its response
// (tester present sub-function 0x80).
func (e *Engine) Process(request []byte) []byte {
	if len(request) < 1 {
		return nil
	}
	service := request[0]

	e.mu.Lock()
	if service != 0x3E && e.session != SessionDefault {
		if e.clk.Now().Sub(e.sessionStart) > S3Timeout {
			e.session = SessionDefault
			e.securityLevel = SecurityLocked
		}
	}
	e.mu.Unlock()

	switch service {
	case 0x10:
		return e.service10(request)
	case 0x11:
		return e.service11(request)
	case 0x14:
		return e.service14(request)
	case 0x19:
		return e.service19(request)
	case 0x22:
		return e.service22(request)
	case 0x27:
		return e.service27(request)
	case 0x28:
		return e.service28(request)
	case 0x2E:
		return e.service2E(request)
	case 0x2F:
		return e.service2F(request)
	case 0x31:
		return e.service31(request)
	case 0x34:
		return e.service34(request)
	case 0x36:
		return e.service36(request)
	case 0x37:
		return e.service37(request)
	case 0x3E:
		return e.service3E(request)
	case 0x85:
		return e.service85(request)
	default:
		return negResponse(service, nrcServiceNotSupported)
	}
}

// Session reports the currently active diagnostic session.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// SecurityLevel reports the currently unlocked security level.
func (e *Engine) SecurityLevel() SecurityLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.securityLevel
}

// service10: Diagnostic Session Control.
func (e *Engine) service10(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x10, nrcIncorrectMessageLength)
	}
	sessionType := request[1]
	if !validSession(sessionType) {
		return negResponse(0x10, nrcSubFunctionNotSupported)
	}

	e.mu.Lock()
	e.session = Session(sessionType)
	e.sessionStart = e.clk.Now()
	if Session(sessionType) != SessionExtended {
		e.securityLevel = SecurityLocked
	}
	e.mu.Unlock()

	// P2 timing 0x0032 (50ms), P2* timing 0x01F4 (500ms).
	return []byte{0x50, sessionType, 0x00, 0x32, 0x01, 0xF4}
}

// service11: ECU Reset.
func (e *Engine) service11(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x11, nrcIncorrectMessageLength)
	}
	resetType := request[1]
	switch resetType {
	case 0x01, 0x02, 0x03:
		return []byte{0x51, resetType}
	default:
		return negResponse(0x11, nrcSubFunctionNotSupported)
	}
}

// service14: Clear Diagnostic Information.
func (e *Engine) service14(request []byte) []byte {
	if len(request) < 4 {
		return negResponse(0x14, nrcIncorrectMessageLength)
	}
	group := uint32(request[1])<<16 | uint32(request[2])<<8 | uint32(request[3])
	if group == 0xFFFFFF {
		e.registry.Clear(false)
	}
	return []byte{0x54}
}

// service19: Read DTC Information.
func (e *Engine) service19(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x19, nrcIncorrectMessageLength)
	}
	switch request[1] {
	case 0x01: // report number of DTCs by status mask
		count := e.registry.Count()
		return []byte{0x59, 0x01, 0xFF, 0x00, byte(count >> 8), byte(count)}

	case 0x02: // report DTC by status mask
		if len(request) < 3 {
			return negResponse(0x19, nrcIncorrectMessageLength)
		}
		statusMask := request[2]
		codes := e.registry.AllActive()
		resp := []byte{0x59, 0x02, statusMask}
		for _, c := range codes {
			b := c.Bytes()
			resp = append(resp, b[0], b[1], 0x08) // confirmed, test failed
		}
		return resp

	case 0x0A: // report supported DTC, limited to 10 entries
		resp := []byte{0x59, 0x0A}
		for _, code := range supportedDTCCodes(10) {
			b := dtc.Code{Code: code}.Bytes()
			resp = append(resp, b[0], b[1], 0x00)
		}
		return resp

	default:
		return negResponse(0x19, nrcSubFunctionNotSupported)
	}
}

// service22: Read Data By Identifier.
func (e *Engine) service22(request []byte) []byte {
	if len(request) < 3 {
		return negResponse(0x22, nrcIncorrectMessageLength)
	}
	did := binary.BigEndian.Uint16(request[1:3])

	e.mu.Lock()
	data, ok := e.dids[did]
	e.mu.Unlock()
	if !ok {
		return negResponse(0x22, nrcRequestOutOfRange)
	}
	return append([]byte{0x62, request[1], request[2]}, data...)
}

// service27: Security Access (odd sub-function = seed, even = key).
func (e *Engine) service27(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x27, nrcIncorrectMessageLength)
	}
	sub := request[1]

	e.mu.Lock()
	defer e.mu.Unlock()

	if sub%2 == 1 {
		level := SecurityLevel((sub + 1) / 2)
		if e.securityLevel >= level {
			return []byte{0x67, sub, 0x00, 0x00, 0x00, 0x00}
		}
		if e.securityAttempts >= maxSecurityAttempts {
			return negResponse(0x27, nrcExceedNumberOfAttempts)
		}
		seed := e.nextSeed()
		e.currentSeed = seed
		e.hasSeed = true
		return append([]byte{0x67, sub}, seedBytes(seed)...)
	}

	// even: send key
	if len(request) < 6 {
		return negResponse(0x27, nrcIncorrectMessageLength)
	}
	level := SecurityLevel(sub / 2)
	providedKey := binary.BigEndian.Uint32(request[2:6])

	if !e.hasSeed {
		return negResponse(0x27, nrcRequestSequenceError)
	}
	expectedKey := e.currentSeed ^ seedKeyXOR
	e.hasSeed = false

	if providedKey == expectedKey {
		e.securityLevel = level
		e.securityAttempts = 0
		return []byte{0x67, sub}
	}
	e.securityAttempts++
	return negResponse(0x27, nrcInvalidKey)
}

func (e *Engine) nextSeed() uint32 {
	if e.rng == nil {
		return 0x10000000
	}
	return 0x10000000 + e.rng.Uint32()%(0xFFFFFFFF-0x10000000)
}

func seedBytes(seed uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seed)
	return b
}

// service28: Communication Control.
func (e *Engine) service28(request []byte) []byte {
	if len(request) < 3 {
		return negResponse(0x28, nrcIncorrectMessageLength)
	}
	return []byte{0x68, request[1]}
}

// service2E: Write Data By Identifier.
func (e *Engine) service2E(request []byte) []byte {
	if len(request) < 4 {
		return negResponse(0x2E, nrcIncorrectMessageLength)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.securityLevel == SecurityLocked {
		return negResponse(0x2E, nrcSecurityAccessDenied)
	}
	did := binary.BigEndian.Uint16(request[1:3])
	if _, ok := e.dids[did]; !ok {
		return negResponse(0x2E, nrcRequestOutOfRange)
	}
	e.dids[did] = append([]byte(nil), request[3:]...)
	return []byte{0x6E, request[1], request[2]}
}

// service2F: Input/Output Control By Identifier.
func (e *Engine) service2F(request []byte) []byte {
	if len(request) < 4 {
		return negResponse(0x2F, nrcIncorrectMessageLength)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != SessionExtended {
		return negResponse(0x2F, nrcServiceNotSupportedInSession)
	}
	did := binary.BigEndian.Uint16(request[1:3])
	controlParam := request[3]

	if controlParam == 0x00 {
		delete(e.ioControls, did)
	} else {
		state := byte(0)
		if len(request) > 4 {
			state = request[4]
		}
		e.ioControls[did] = state != 0
	}
	return []byte{0x6F, request[1], request[2], controlParam}
}

// service31: Routine Control.
func (e *Engine) service31(request []byte) []byte {
	if len(request) < 4 {
		return negResponse(0x31, nrcIncorrectMessageLength)
	}
	sub := request[1]
	routineID := binary.BigEndian.Uint16(request[2:4])

	e.mu.Lock()
	defer e.mu.Unlock()

	switch sub {
	case 0x01: // start
		if e.session == SessionDefault {
			return negResponse(0x31, nrcServiceNotSupportedInSession)
		}
		e.activeRoutines[routineID] = "running"
		return []byte{0x71, 0x01, request[2], request[3], 0x00}

	case 0x02: // stop
		if _, ok := e.activeRoutines[routineID]; ok {
			e.activeRoutines[routineID] = "stopped"
		}
		return []byte{0x71, 0x02, request[2], request[3], 0x00}

	case 0x03: // request results
		status := byte(0x01)
		if _, ok := e.activeRoutines[routineID]; ok {
			status = 0x00
		}
		return []byte{0x71, 0x03, request[2], request[3], status}

	default:
		return negResponse(0x31, nrcSubFunctionNotSupported)
	}
}

// service34: Request Download.
func (e *Engine) service34(request []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != SessionProgramming {
		return negResponse(0x34, nrcServiceNotSupportedInSession)
	}
	if e.securityLevel == SecurityLocked {
		return negResponse(0x34, nrcSecurityAccessDenied)
	}
	return []byte{0x74, 0x20, 0x10, 0x00} // max block length 0x1000
}

// service36: Transfer Data.
func (e *Engine) service36(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x36, nrcIncorrectMessageLength)
	}
	return []byte{0x76, request[1]}
}

// service37: Request Transfer Exit.
func (e *Engine) service37(request []byte) []byte {
	return []byte{0x77}
}

// service3E: Tester Present. Sub-function 0x80 suppresses the response but
// still refreshes the S3 timer; sub-functions other than 0x00 and 0x80 are
// rejected with NRC 0x12.
func (e *Engine) service3E(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x3E, nrcIncorrectMessageLength)
	}
	e.mu.Lock()
	e.sessionStart = e.clk.Now()
	e.mu.Unlock()

	switch request[1] {
	case 0x00:
		return []byte{0x7E, 0x00}
	case 0x80:
		return nil
	default:
		return negResponse(0x3E, nrcSubFunctionNotSupported)
	}
}

// service85: Control DTC Setting.
func (e *Engine) service85(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x85, nrcIncorrectMessageLength)
	}
	e.mu.Lock()
	inExtended := e.session == SessionExtended
	e.mu.Unlock()
	if !inExtended {
		return negResponse(0x85, nrcServiceNotSupportedInSession)
	}
	return []byte{0xC5, request[1]}
}
