package isotp

import "time"

// Transmitter puts one already-framed 8-byte CAN payload on the wire.
type Transmitter interface {
	Transmit(frame [8]byte) error
}

// Config tunes the ISO-TP timers and the block-size/STmin a Receiver
// advertises to its peer in its own Flow-Control frames.
type Config struct {
	BlockSize byte          // advertised to the peer; 0 = no limit
	STmin     byte          // ms, advertised to the peer
	NBs       time.Duration // sender's wait for Flow-Control
	NCr       time.Duration // receiver's inter-consecutive-frame gap
}

// DefaultConfig matches the ISO 15765-2 defaults this spec uses.
func DefaultConfig() Config {
	return Config{
		BlockSize: 0,
		STmin:     0,
		NBs:       1000 * time.Millisecond,
		NCr:       1000 * time.Millisecond,
	}
}

// Sender implements the segmentation sender state machine: single frames go
// straight out, multi-frame payloads wait for Flow Control and honor the
// peer's block size and STmin.
type Sender struct {
	tx   Transmitter
	fcIn <-chan Frame
	cfg  Config
}

// NewSender builds a Sender. fcIn must deliver every Flow-Control frame the
// caller's dispatch loop decodes while a Send is outstanding; everything else
// is dispatched normally and never reaches the sender.
func NewSender(tx Transmitter, fcIn <-chan Frame, cfg Config) *Sender {
	return &Sender{tx: tx, fcIn: fcIn, cfg: cfg}
}

// Send transmits payload, blocking for flow control and inter-frame
// separation time as needed.
func (s *Sender) Send(payload []byte) error {
	if len(payload) <= 7 {
		frame, err := EncodeSingle(payload)
		if err != nil {
			return err
		}
		return s.tx.Transmit(frame)
	}
	return s.sendMulti(payload)
}

func (s *Sender) sendMulti(payload []byte) error {
	first, err := EncodeFirst(len(payload), payload[:6])
	if err != nil {
		return err
	}
	if err := s.tx.Transmit(first); err != nil {
		return err
	}

	remaining := payload[6:]
	seq := byte(1)
	blockSize, stmin, err := s.awaitContinue()
	if err != nil {
		return err
	}

	sinceFC := 0
	for len(remaining) > 0 {
		n := 7
		if n > len(remaining) {
			n = len(remaining)
		}
		cf, err := EncodeConsecutive(seq, remaining[:n])
		if err != nil {
			return err
		}
		if err := s.tx.Transmit(cf); err != nil {
			return err
		}
		remaining = remaining[n:]
		seq = (seq + 1) % 16
		sinceFC++

		if len(remaining) == 0 {
			break
		}
		if blockSize != 0 && sinceFC >= int(blockSize) {
			blockSize, stmin, err = s.awaitContinue()
			if err != nil {
				return err
			}
			sinceFC = 0
		}
		if stmin > 0 {
			time.Sleep(time.Duration(stmin) * time.Millisecond)
		}
	}
	return nil
}

// awaitContinue blocks for a Flow-Control frame, looping through any number
// of Wait frames, and returns the peer's block size / STmin on Continue.
func (s *Sender) awaitContinue() (blockSize, stmin byte, err error) {
	timer := time.NewTimer(s.cfg.NBs)
	defer timer.Stop()
	for {
		select {
		case frame, ok := <-s.fcIn:
			if !ok {
				return 0, 0, ErrFlowTimeout
			}
			switch frame.Status {
			case FlowContinue:
				return frame.BlockSize, frame.STmin, nil
			case FlowWait:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.cfg.NBs)
				continue
			case FlowOverflow:
				return 0, 0, ErrOverflow
			default:
				continue
			}
		case <-timer.C:
			return 0, 0, ErrFlowTimeout
		}
	}
}

// Receiver implements the segmentation receiver state machine: reassembles
// First + Consecutive frames into one payload, issuing Flow Control as it
// goes. Reassembly state is per-direction, per-address — callers own one
// Receiver per peer.
type Receiver struct {
	cfg   Config
	state reassembly
}

type reassembly struct {
	active    bool
	expected  int
	buf       []byte
	nextSeq   byte
	lastFrame time.Time
}

// NewReceiver builds a Receiver that will advertise cfg.BlockSize/cfg.STmin
// in its Flow-Control frames.
func NewReceiver(cfg Config) *Receiver {
	return &Receiver{cfg: cfg}
}

// IsReassembling reports whether a First Frame is outstanding.
func (r *Receiver) IsReassembling() bool { return r.state.active }

// Process feeds one inbound frame to the receiver. It returns the complete
// payload when reassembly finishes (or immediately for a Single Frame), or
// nil while more frames are needed. Flow Control goes out through tx after a
// First Frame and, with a non-zero BlockSize, after each full block of
// Consecutive Frames. tx may be nil, in which case no Flow Control is sent —
// normally pass the link used to answer the peer so Continue-to-send frames
// go out.
func (r *Receiver) Process(tx Transmitter, now time.Time, raw [8]byte) ([]byte, error) {
	frame, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	switch frame.Kind {
	case KindSingle:
		r.reset()
		return frame.Data, nil

	case KindFirst:
		r.state = reassembly{
			active:    true,
			expected:  frame.TotalLength,
			buf:       append([]byte(nil), frame.FirstData...),
			nextSeq:   1,
			lastFrame: now,
		}
		if tx != nil {
			fc := EncodeFlowControl(FlowContinue, r.cfg.BlockSize, r.cfg.STmin)
			if err := tx.Transmit(fc); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case KindConsecutive:
		if !r.state.active {
			return nil, nil // stray CF with no First outstanding: silently dropped
		}
		if now.Sub(r.state.lastFrame) > r.cfg.NCr {
			r.reset()
			return nil, ErrReassemblyTimeout
		}
		if frame.Sequence != r.state.nextSeq {
			r.reset()
			return nil, ErrSeqError
		}

		remaining := r.state.expected - len(r.state.buf)
		chunk := frame.CFData
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		r.state.buf = append(r.state.buf, chunk...)
		r.state.nextSeq = (r.state.nextSeq + 1) % 16
		r.state.lastFrame = now

		if len(r.state.buf) >= r.state.expected {
			payload := r.state.buf[:r.state.expected]
			r.reset()
			return payload, nil
		}
		// The First Frame carried 6 bytes and every CF so far carried 7, so
		// this counts the CFs received; after each full block, grant the next.
		if received := (len(r.state.buf) - 6) / 7; tx != nil && r.cfg.BlockSize != 0 && received%int(r.cfg.BlockSize) == 0 {
			fc := EncodeFlowControl(FlowContinue, r.cfg.BlockSize, r.cfg.STmin)
			if err := tx.Transmit(fc); err != nil {
				return nil, err
			}
		}
		return nil, nil

	default: // Flow Control frames are for the Sender's half, not us
		return nil, nil
	}
}

func (r *Receiver) reset() {
	r.state = reassembly{}
}
