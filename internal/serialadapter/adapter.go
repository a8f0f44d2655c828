// Package serialadapter emulates an ELM327-style OBD-II adapter over a
// serial line: AT-command configuration plus hex-string request/response
// framing atop an ISO-TP link into a bus.Coordinator.
package serialadapter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/obdsim/vecu/internal/bus"
	"github.com/obdsim/vecu/internal/ecu"
	"github.com/obdsim/vecu/internal/isotp"
)

const version = "ELM327 v1.5"

// coordTransmitter adapts a bus.Coordinator into an isotp.Transmitter
// addressed at a fixed arbitration ID, the way Unit's own sinkTransmitter
// adapts a FrameSink.
type coordTransmitter struct {
	coord *bus.Coordinator
	canID uint32
}

func (t coordTransmitter) Transmit(frame [8]byte) error {
	t.coord.Deliver(t.canID, frame)
	return nil
}

// Adapter is one emulated ELM327 adapter, bridging a serial line to one
// request/response address pair on a Coordinator's bus.
type Adapter struct {
	port  io.ReadWriter
	coord *bus.Coordinator

	requestID  uint32
	responseID uint32
	timeout    time.Duration

	mu       sync.Mutex
	echoOn   bool
	headerOn bool
	spacesOn bool
	lineFeed bool
	protocol string

	sender   *isotp.Sender
	receiver *isotp.Receiver
	fcIn     chan isotp.Frame
	respCh   chan []byte
}

// New builds an Adapter that sends OBD-II/UDS requests to requestID and
// expects responses from responseID (0x7DF/0x7E8 for the functional OBD-II
// pair, or an ECU's physical address pair for a targeted session).
func New(port io.ReadWriter, coord *bus.Coordinator, requestID, responseID uint32) *Adapter {
	cfg := isotp.DefaultConfig()
	tx := coordTransmitter{coord: coord, canID: requestID}
	fcIn := make(chan isotp.Frame, 4)
	return &Adapter{
		port:       port,
		coord:      coord,
		requestID:  requestID,
		responseID: responseID,
		timeout:    2 * time.Second,
		echoOn:     true,
		spacesOn:   true,
		lineFeed:   true,
		protocol:   "6", // ISO 15765-4 CAN (11 bit ID, 500 kbaud)
		sender:     isotp.NewSender(tx, fcIn, cfg),
		receiver:   isotp.NewReceiver(cfg),
		fcIn:       fcIn,
		respCh:     make(chan []byte, 1),
	}
}

// HandleFrame feeds one inbound bus frame to the adapter's ISO-TP receiver.
// Wire this as (part of) a bus.Coordinator's onFrame hook so responses
// addressed to this adapter's responseID reach it.
func (a *Adapter) HandleFrame(canID uint32, frame [8]byte) {
	if canID != a.responseID {
		return
	}

	decoded, err := isotp.Decode(frame)
	if err == nil && decoded.Kind == isotp.KindFlowControl {
		select {
		case a.fcIn <- decoded:
		default:
		}
		return
	}

	fcTx := coordTransmitter{coord: a.coord, canID: a.requestID}
	payload, err := a.receiver.Process(fcTx, time.Now(), frame)
	if err != nil || payload == nil {
		return
	}
	select {
	case a.respCh <- payload:
	default:
	}
}

// Run reads AT and OBD/UDS command lines from the serial port until it
// returns io.EOF or the port is closed.
func (a *Adapter) Run() error {
	scanner := bufio.NewScanner(a.port)
	scanner.Split(splitOnCROrLF)

	if _, err := io.WriteString(a.port, version+"\r\n\r\n>"); err != nil {
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			io.WriteString(a.port, ">")
			continue
		}

		a.mu.Lock()
		echo := a.echoOn
		a.mu.Unlock()
		if echo {
			io.WriteString(a.port, line+"\r")
		}

		var response string
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "AT") {
			response = a.processAT(line)
		} else {
			response = a.processRequest(line)
		}
		io.WriteString(a.port, response)
		io.WriteString(a.port, ">")
	}
	return scanner.Err()
}

func splitOnCROrLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (a *Adapter) formatLine(s string) string {
	if a.lineFeed {
		return s + "\r\n"
	}
	return s + "\r"
}

func (a *Adapter) processAT(cmd string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmd = strings.ToUpper(strings.TrimSpace(cmd))
	switch {
	case cmd == "ATZ":
		a.echoOn, a.headerOn, a.spacesOn = true, false, true
		return a.formatLine(version + "\r\n>")
	case cmd == "AT@1":
		return a.formatLine("MockOBD")
	case cmd == "ATI":
		return a.formatLine(version)
	case cmd == "ATE0":
		a.echoOn = false
		return a.formatLine("OK")
	case cmd == "ATE1":
		a.echoOn = true
		return a.formatLine("OK")
	case cmd == "ATL0":
		a.lineFeed = false
		return a.formatLine("OK")
	case cmd == "ATL1":
		a.lineFeed = true
		return a.formatLine("OK")
	case cmd == "ATS0":
		a.spacesOn = false
		return a.formatLine("OK")
	case cmd == "ATS1":
		a.spacesOn = true
		return a.formatLine("OK")
	case cmd == "ATH0":
		a.headerOn = false
		return a.formatLine("OK")
	case cmd == "ATH1":
		a.headerOn = true
		return a.formatLine("OK")
	case strings.HasPrefix(cmd, "ATSP"):
		if len(cmd) > 4 {
			a.protocol = cmd[4:]
		} else {
			a.protocol = "6"
		}
		return a.formatLine("OK")
	case cmd == "ATTP":
		return a.formatLine("OK")
	case cmd == "ATDP":
		return a.formatLine("AUTO, ISO 15765-4 (CAN 11/500)")
	case cmd == "ATAT0" || cmd == "ATAT1" || cmd == "ATAT2":
		return a.formatLine("OK")
	case strings.HasPrefix(cmd, "ATST"):
		return a.formatLine("OK")
	case cmd == "ATWS":
		return a.formatLine("OK")
	case strings.HasPrefix(cmd, "AT"):
		return a.formatLine("OK")
	default:
		return a.formatLine("?")
	}
}

func (a *Adapter) processRequest(line string) string {
	hexStr := strings.ReplaceAll(strings.TrimSpace(line), " ", "")
	payload, err := decodeHex(hexStr)
	if err != nil {
		return a.formatLine("?")
	}

	for len(a.respCh) > 0 {
		<-a.respCh // drop any stale response from a prior timed-out request
	}
	if err := a.sender.Send(payload); err != nil {
		return a.formatLine("BUS ERROR")
	}

	select {
	case resp := <-a.respCh:
		return a.formatLine(a.formatResponse(resp))
	case <-time.After(a.timeout):
		return a.formatLine("NO DATA")
	}
}

func (a *Adapter) formatResponse(payload []byte) string {
	a.mu.Lock()
	headerOn, spacesOn := a.headerOn, a.spacesOn
	a.mu.Unlock()

	hexBytes := make([]string, len(payload))
	for i, b := range payload {
		hexBytes[i] = fmt.Sprintf("%02X", b)
	}

	sep := ""
	if spacesOn {
		sep = " "
	}
	body := strings.Join(hexBytes, sep)
	if headerOn {
		return fmt.Sprintf("%03X%s%s", a.responseID, sep, body)
	}
	return body
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("serialadapter: odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02X", &b); err != nil {
			return nil, fmt.Errorf("serialadapter: invalid hex byte in %q: %w", s, err)
		}
		out[i] = b
	}
	return out, nil
}

// FunctionalAdapter builds an Adapter addressed at the engine ECU's physical
// request/response pair (0x7E0/0x7E8), matching the default pairing a
// standalone ELM327 scan tool session uses against the engine ECU.
func FunctionalAdapter(port io.ReadWriter, coord *bus.Coordinator) *Adapter {
	return New(port, coord, ecu.EngineIdentity().RequestID, ecu.EngineIdentity().ResponseID)
}
