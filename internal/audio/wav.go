// Package audio provides the silent keepalive clip and the keepalive
// contract. Mobile browsers suspend page timers aggressively once the tab is
// backgrounded; looping an inaudible clip through an <audio> element keeps
// the audio channel, and with it the timers, alive while narration runs.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// DefaultSampleRate is used when the caller passes a non-positive rate.
// 8 kHz mono keeps the clip tiny; it only has to exist, not sound good.
const DefaultSampleRate = 8000

// SilentWAV returns a canonical RIFF/WAVE container holding d of 16-bit
// mono PCM silence.
func SilentWAV(d time.Duration, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if d < 0 {
		d = 0
	}

	samples := int(float64(sampleRate) * d.Seconds())
	dataSize := uint32(samples * numChannels * bitsPerSample / 8)
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(audioFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize)) // zero samples: silence

	return buf.Bytes()
}

// SilentClipDataURL returns the silent clip as a data: URL suitable for a
// browser <audio> element's src attribute.
func SilentClipDataURL(d time.Duration, sampleRate int) string {
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(SilentWAV(d, sampleRate))
}
