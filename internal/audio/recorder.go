package audio

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

// ErrRecorderFull is returned once the recorder reached its byte limit
var ErrRecorderFull = errors.New("audio recorder is full")

// Artifact is an encoded audio blob ready for upload
type Artifact struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Empty reports whether the artifact carries no audio
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// Recorder accumulates captured PCM16 audio for the session artifact
type Recorder struct {
	mu         sync.Mutex
	pcm        []byte
	sampleRate int
	channels   int
	maxBytes   int
}

// NewRecorder creates a recorder. maxBytes <= 0 means unbounded.
func NewRecorder(sampleRate, channels, maxBytes int) *Recorder {
	if channels <= 0 {
		channels = 1
	}
	return &Recorder{sampleRate: sampleRate, channels: channels, maxBytes: maxBytes}
}

// Write appends PCM data. Bytes past the limit are dropped and reported.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxBytes > 0 && len(r.pcm)+len(p) > r.maxBytes {
		room := r.maxBytes - len(r.pcm)
		if room > 0 {
			r.pcm = append(r.pcm, p[:room]...)
		}
		return max(room, 0), ErrRecorderFull
	}
	r.pcm = append(r.pcm, p...)
	return len(p), nil
}

// Len returns the number of recorded bytes
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm)
}

// Duration returns the recorded length in seconds
func (r *Recorder) Duration() float64 {
	return PCMDuration(r.Len(), r.sampleRate, r.channels)
}

// Artifact encodes the recording as a WAV file
func (r *Recorder) Artifact() Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pcm) == 0 {
		return Artifact{}
	}
	return Artifact{
		Data:        EncodeWAV(r.pcm, r.sampleRate, r.channels),
		ContentType: "audio/wav",
		Extension:   "wav",
	}
}

// Reset discards recorded audio
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm = nil
}

const bitsPerSample = 16

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAV container
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// FileArtifact wraps an uploaded file as the session artifact, guessing the
// content type from its extension
func FileArtifact(data []byte, filename string) Artifact {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		ext = "bin"
	}
	ct, ok := contentTypes[ext]
	if !ok {
		ct = "application/octet-stream"
	}
	return Artifact{Data: data, ContentType: ct, Extension: ext}
}

var contentTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"ogg":  "audio/ogg",
	"webm": "audio/webm",
	"flac": "audio/flac",
}
