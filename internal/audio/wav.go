package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidSampleRate reports a caller contract violation: WAV encoding
// needs a positive sample rate.
var ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")

// EncodeWAV converts floating-point samples into a mono 16-bit PCM WAV
// buffer. Samples outside [-1, 1] are clamped (PCM saturation), then scaled
// by 32767 with truncation toward zero. The output is deterministic: the
// same input always yields byte-identical output. An empty sample slice
// encodes to a valid WAV with a zero-length data chunk.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a mono 16-bit PCM WAV buffer back into floating-point
// samples and the declared sample rate. It is the inverse of EncodeWAV
// within 16-bit quantization error.
func DecodeWAV(b []byte) ([]float32, int, error) {
	if len(b) < 44 {
		return nil, 0, fmt.Errorf("audio: wav buffer too short (%d bytes)", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE buffer")
	}
	if string(b[12:16]) != "fmt " {
		return nil, 0, errors.New("audio: missing fmt chunk")
	}
	audioFormat := binary.LittleEndian.Uint16(b[20:22])
	numChannels := binary.LittleEndian.Uint16(b[22:24])
	sampleRate := int(binary.LittleEndian.Uint32(b[24:28]))
	bitsPerSample := binary.LittleEndian.Uint16(b[34:36])
	if audioFormat != 1 || bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported format (format=%d bits=%d)", audioFormat, bitsPerSample)
	}
	if numChannels != 1 {
		return nil, 0, fmt.Errorf("audio: expected mono, got %d channels", numChannels)
	}
	if string(b[36:40]) != "data" {
		return nil, 0, errors.New("audio: missing data chunk")
	}
	dataSize := int(binary.LittleEndian.Uint32(b[40:44]))
	if dataSize%2 != 0 || len(b) < 44+dataSize {
		return nil, 0, fmt.Errorf("audio: truncated data chunk (declared %d bytes)", dataSize)
	}

	pcm := b[44 : 44+dataSize]
	samples := make([]float32, dataSize/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32767
	}
	return samples, sampleRate, nil
}

// WriteWAVFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVTo(f, pcm, sampleRate)
}

// WriteWAVTo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVTo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
