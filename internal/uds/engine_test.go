package uds

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/dtc"
)

func newEngine(t *testing.T) (*Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	registry := dtc.NewRegistry(clk, nil)
	e := New(clk, rand.New(rand.NewSource(1)), registry, Identity{VIN: "1HGBH41JXMN109186", ECUName: "ENGINE-ECU"})
	return e, clk
}

func TestService10ValidSession(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x10, 0x03})
	if !bytes.Equal(resp, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}) {
		t.Fatalf("unexpected session control response: %x", resp)
	}
	if e.Session() != SessionExtended {
		t.Fatalf("expected extended session, got %v", e.Session())
	}
}

func TestService10InvalidSessionType(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x10, 0x09})
	if !bytes.Equal(resp, negResponse(0x10, nrcSubFunctionNotSupported)) {
		t.Fatalf("expected sub-function not supported, got %x", resp)
	}
}

func TestSessionTimeoutResetsToDefault(t *testing.T) {
	e, clk := newEngine(t)
	e.Process([]byte{0x10, 0x03}) // extended

	clk.Advance(S3Timeout + time.Second)
	e.Process([]byte{0x22, 0xF1, 0x90}) // any non-tester-present service

	if e.Session() != SessionDefault {
		t.Fatalf("expected session to time out to default, got %v", e.Session())
	}
}

func TestTesterPresentRefreshesTimeout(t *testing.T) {
	e, clk := newEngine(t)
	e.Process([]byte{0x10, 0x03})

	for i := 0; i < 10; i++ {
		clk.Advance(3 * time.Second)
		resp := e.Process([]byte{0x3E, 0x00})
		if !bytes.Equal(resp, []byte{0x7E, 0x00}) {
			t.Fatalf("unexpected tester present response: %x", resp)
		}
	}
	if e.Session() != SessionExtended {
		t.Fatal("expected tester present to keep session alive past S3 timeout")
	}
}

func TestTesterPresentSuppressResponse(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x3E, 0x80})
	if resp != nil {
		t.Fatalf("expected suppressed response, got %x", resp)
	}
}

func TestSecurityAccessSeedKeyRoundtrip(t *testing.T) {
	e, _ := newEngine(t)
	seedResp := e.Process([]byte{0x27, 0x01})
	if len(seedResp) != 6 || seedResp[0] != 0x67 || seedResp[1] != 0x01 {
		t.Fatalf("unexpected seed response: %x", seedResp)
	}
	seed := uint32(seedResp[2])<<24 | uint32(seedResp[3])<<16 | uint32(seedResp[4])<<8 | uint32(seedResp[5])
	key := seed ^ seedKeyXOR

	keyReq := []byte{0x27, 0x02, byte(key >> 24), byte(key >> 16), byte(key >> 8), byte(key)}
	keyResp := e.Process(keyReq)
	if !bytes.Equal(keyResp, []byte{0x67, 0x02}) {
		t.Fatalf("expected key accepted, got %x", keyResp)
	}
	if e.SecurityLevel() != SecurityLevel1 {
		t.Fatalf("expected security level 1 unlocked, got %v", e.SecurityLevel())
	}
}

func TestSecurityAccessWrongKeyIncrementsAttempts(t *testing.T) {
	e, _ := newEngine(t)
	e.Process([]byte{0x27, 0x01})
	resp := e.Process([]byte{0x27, 0x02, 0, 0, 0, 0})
	if !bytes.Equal(resp, negResponse(0x27, nrcInvalidKey)) {
		t.Fatalf("expected invalid key NRC, got %x", resp)
	}
	if e.SecurityLevel() != SecurityLocked {
		t.Fatal("expected security to remain locked after a wrong key")
	}
}

func TestSecurityAccessExceedsAttempts(t *testing.T) {
	e, _ := newEngine(t)
	for i := 0; i < maxSecurityAttempts; i++ {
		e.Process([]byte{0x27, 0x01})
		e.Process([]byte{0x27, 0x02, 0, 0, 0, 0})
	}
	resp := e.Process([]byte{0x27, 0x01})
	if !bytes.Equal(resp, negResponse(0x27, nrcExceedNumberOfAttempts)) {
		t.Fatalf("expected attempts-exceeded NRC, got %x", resp)
	}
}

func TestSendKeyWithoutSeedIsSequenceError(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x27, 0x02, 0, 0, 0, 0})
	if !bytes.Equal(resp, negResponse(0x27, nrcRequestSequenceError)) {
		t.Fatalf("expected request sequence error, got %x", resp)
	}
}

func TestReadDataByIdentifierVIN(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x22, 0xF1, 0x90})
	if len(resp) != 3+17 || resp[0] != 0x62 {
		t.Fatalf("unexpected RDBI response: %x", resp)
	}
	if string(bytes.TrimRight(resp[3:], "\x00")) != "1HGBH41JXMN109186" {
		t.Fatalf("unexpected VIN payload: %q", resp[3:])
	}
}

func TestReadDataByIdentifierUnknownDID(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x22, 0x99, 0x99})
	if !bytes.Equal(resp, negResponse(0x22, nrcRequestOutOfRange)) {
		t.Fatalf("expected request out of range, got %x", resp)
	}
}

func TestExtraDIDsOverlayBuiltInTable(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	registry := dtc.NewRegistry(clk, nil)
	e := New(clk, rand.New(rand.NewSource(1)), registry, Identity{
		VIN:     "1HGBH41JXMN109186",
		ECUName: "ENGINE-ECU",
		ExtraDIDs: map[uint16][]byte{
			0xF187: []byte("OVERRIDDEN"), // overrides a built-in DID
			0x1234: []byte("NEW"),        // adds a new DID
		},
	})

	resp := e.Process([]byte{0x22, 0xF1, 0x87})
	if string(resp[3:]) != "OVERRIDDEN" {
		t.Fatalf("expected overlay to override the built-in DID, got %q", resp[3:])
	}

	resp = e.Process([]byte{0x22, 0x12, 0x34})
	if string(resp[3:]) != "NEW" {
		t.Fatalf("expected overlay to add a new DID, got %q", resp[3:])
	}
}

func TestWriteDataByIdentifierRequiresSecurity(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x2E, 0x01, 0x00, 0xAB})
	if !bytes.Equal(resp, negResponse(0x2E, nrcSecurityAccessDenied)) {
		t.Fatalf("expected security access denied, got %x", resp)
	}
}

func TestWriteDataByIdentifierSucceedsWhenUnlocked(t *testing.T) {
	e, _ := newEngine(t)
	seedResp := e.Process([]byte{0x27, 0x01})
	seed := uint32(seedResp[2])<<24 | uint32(seedResp[3])<<16 | uint32(seedResp[4])<<8 | uint32(seedResp[5])
	key := seed ^ seedKeyXOR
	e.Process([]byte{0x27, 0x02, byte(key >> 24), byte(key >> 16), byte(key >> 8), byte(key)})

	resp := e.Process([]byte{0x2E, 0x01, 0x00, 0xAB, 0xCD})
	if !bytes.Equal(resp, []byte{0x6E, 0x01, 0x00}) {
		t.Fatalf("unexpected write response: %x", resp)
	}
	read := e.Process([]byte{0x22, 0x01, 0x00})
	if !bytes.Equal(read[3:], []byte{0xAB, 0xCD}) {
		t.Fatalf("expected written value read back, got %x", read[3:])
	}
}

func TestIOControlRequiresExtendedSession(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x2F, 0x01, 0x00, 0x03, 0x01})
	if !bytes.Equal(resp, negResponse(0x2F, nrcServiceNotSupportedInSession)) {
		t.Fatalf("expected not-supported-in-session, got %x", resp)
	}
	e.Process([]byte{0x10, 0x03})
	resp = e.Process([]byte{0x2F, 0x01, 0x00, 0x03, 0x01})
	if !bytes.Equal(resp, []byte{0x6F, 0x01, 0x00, 0x03}) {
		t.Fatalf("unexpected IO control response: %x", resp)
	}
}

func TestRoutineControlLifecycle(t *testing.T) {
	e, _ := newEngine(t)
	e.Process([]byte{0x10, 0x03})

	start := e.Process([]byte{0x31, 0x01, 0x02, 0x03})
	if !bytes.Equal(start, []byte{0x71, 0x01, 0x02, 0x03, 0x00}) {
		t.Fatalf("unexpected routine start response: %x", start)
	}
	result := e.Process([]byte{0x31, 0x03, 0x02, 0x03})
	if result[4] != 0x00 {
		t.Fatalf("expected routine running status 0x00, got %x", result)
	}
	stop := e.Process([]byte{0x31, 0x02, 0x02, 0x03})
	if !bytes.Equal(stop, []byte{0x71, 0x02, 0x02, 0x03, 0x00}) {
		t.Fatalf("unexpected routine stop response: %x", stop)
	}
}

func TestRequestDownloadRequiresProgrammingAndSecurity(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x34})
	if !bytes.Equal(resp, negResponse(0x34, nrcServiceNotSupportedInSession)) {
		t.Fatalf("expected not-supported-in-session, got %x", resp)
	}

	e.Process([]byte{0x10, 0x02}) // programming session
	resp = e.Process([]byte{0x34})
	if !bytes.Equal(resp, negResponse(0x34, nrcSecurityAccessDenied)) {
		t.Fatalf("expected security access denied, got %x", resp)
	}
}

func TestClearDiagnosticInformationAllGroups(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x14, 0xFF, 0xFF, 0xFF})
	if !bytes.Equal(resp, []byte{0x54}) {
		t.Fatalf("unexpected clear DTC response: %x", resp)
	}
}

func TestUnsupportedServiceNegativeResponse(t *testing.T) {
	e, _ := newEngine(t)
	resp := e.Process([]byte{0x99})
	if !bytes.Equal(resp, negResponse(0x99, nrcServiceNotSupported)) {
		t.Fatalf("expected service-not-supported NRC, got %x", resp)
	}
}
