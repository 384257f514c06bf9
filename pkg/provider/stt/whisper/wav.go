package whisper

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// sampleRate is the only rate whisper.cpp accepts for in-process inference.
const sampleRate = 16000

// wavPCM is the decoded payload of a RIFF/WAVE file.
type wavPCM struct {
	data       []byte // 16-bit little-endian interleaved samples
	sampleRate int
	channels   int
}

// decodeWAV extracts 16-bit PCM from a canonical RIFF/WAVE container.
// Chunks other than "fmt " and "data" are skipped. Every failure wraps
// stt.ErrAudioDecode.
func decodeWAV(b []byte) (wavPCM, error) {
	var out wavPCM
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return out, fmt.Errorf("whisper: %w: not a RIFF/WAVE file", stt.ErrAudioDecode)
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(b) {
			// Streaming encoders often leave the data size unset; take what is there.
			if id == "data" {
				size = len(b) - body
			} else {
				return out, fmt.Errorf("whisper: %w: truncated %q chunk", stt.ErrAudioDecode, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return out, fmt.Errorf("whisper: %w: short fmt chunk", stt.ErrAudioDecode)
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			out.channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			out.sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if format != 1 || bits != 16 {
				return out, fmt.Errorf("whisper: %w: only 16-bit PCM is supported (format %d, %d bits)", stt.ErrAudioDecode, format, bits)
			}
			if out.channels < 1 {
				return out, fmt.Errorf("whisper: %w: invalid channel count %d", stt.ErrAudioDecode, out.channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return out, fmt.Errorf("whisper: %w: data chunk before fmt chunk", stt.ErrAudioDecode)
			}
			out.data = b[body : body+size]
			return out, nil
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return out, fmt.Errorf("whisper: %w: no data chunk", stt.ErrAudioDecode)
}

// toMonoFloat32 converts interleaved 16-bit PCM to mono float32 samples in
// [-1, 1], averaging channels per frame. A trailing partial frame is dropped.
func toMonoFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:off+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
