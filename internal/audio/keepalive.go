package audio

// Keepalive starts and stops the inaudible keepalive loop. Implementations
// must be idempotent: a double Start keeps one loop running, Stop when
// stopped is a no-op. There is no decision logic here; the player flips it
// on for the duration of a tour and off at the end.
type Keepalive interface {
	Start() error
	Stop()
}

// NopKeepalive does nothing. Used in tests and headless runs where no
// browser is holding the audio channel.
type NopKeepalive struct{}

func (NopKeepalive) Start() error { return nil }

func (NopKeepalive) Stop() {}
