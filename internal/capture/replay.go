package capture

import (
	"fmt"
	"log"
	"time"
)

// ExchangeHandler receives one replayed Exchange.
type ExchangeHandler func(Exchange)

// Replayer plays back a recorded session's exchanges at their original
// relative timing, optionally sped up or slowed down.
type Replayer struct {
	exchanges    []Exchange
	speed        float64
	currentFrame int
}

// NewReplayer builds a Replayer over a session's exchanges, oldest first
// (as returned by Recorder.Session).
func NewReplayer(exchanges []Exchange) *Replayer {
	return &Replayer{exchanges: exchanges, speed: 1.0}
}

// Play walks the session in order, calling handler for each exchange and
// sleeping to reproduce the original inter-frame timing (scaled by Speed).
func (r *Replayer) Play(handler ExchangeHandler) error {
	if len(r.exchanges) == 0 {
		return fmt.Errorf("capture: no exchanges to replay")
	}

	start := time.Now()
	sessionStart := r.exchanges[0].Timestamp

	for i, e := range r.exchanges {
		r.currentFrame = i

		targetDelay := e.Timestamp.Sub(sessionStart)
		actualDelay := time.Since(start)
		adjustedDelay := time.Duration(float64(targetDelay) / r.speed)

		if actualDelay < adjustedDelay {
			time.Sleep(adjustedDelay - actualDelay)
		}

		handler(e)
	}
	r.currentFrame = len(r.exchanges)
	return nil
}

// SetSpeed scales playback; speed <= 0 is rejected in favor of real-time.
func (r *Replayer) SetSpeed(speed float64) {
	if speed <= 0 {
		log.Printf("Invalid replay speed %v, using 1.0", speed)
		r.speed = 1.0
		return
	}
	r.speed = speed
}

// JumpTo moves the replay position to the first exchange at or after t.
func (r *Replayer) JumpTo(t time.Time) error {
	for i, e := range r.exchanges {
		if !e.Timestamp.Before(t) {
			r.currentFrame = i
			return nil
		}
	}
	return fmt.Errorf("capture: no exchange at or after %s", t)
}

// Progress reports how far through the session replay has advanced, 0..1.
func (r *Replayer) Progress() float64 {
	if len(r.exchanges) == 0 {
		return 0
	}
	return float64(r.currentFrame) / float64(len(r.exchanges))
}
