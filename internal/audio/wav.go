package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
	WAVHeaderSize = 44

	// ContentTypeWAV is the MIME type used for uploads.
	ContentTypeWAV = "audio/wav"

	numChannels   = 1
	bitsPerSample = 16
	pcmFormat     = 1
	fmtChunkSize  = 16
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // number of bytes in the data
}

// EncodeWAV serializes PCM chunks, in order, into a mono 16-bit WAV buffer.
// An empty input still yields a valid header-only buffer.
func EncodeWAV(chunks [][]int16, sampleRate int) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	dataSize := uint32(total * BytesPerSample)

	buf := make([]byte, WAVHeaderSize+int(dataSize))
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], fmtChunkSize)
	le.PutUint16(buf[20:22], pcmFormat)
	le.PutUint16(buf[22:24], numChannels)
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate)*numChannels*bitsPerSample/8)
	le.PutUint16(buf[32:34], numChannels*bitsPerSample/8)
	le.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], dataSize)

	offset := WAVHeaderSize
	for _, c := range chunks {
		for _, s := range c {
			le.PutUint16(buf[offset:], uint16(s))
			offset += BytesPerSample
		}
	}

	return buf
}

// EncodeSamples is EncodeWAV for a single contiguous block.
func EncodeSamples(samples []int16, sampleRate int) []byte {
	return EncodeWAV([][]int16{samples}, sampleRate)
}

// DecodeWAV decodes WAV format data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != bitsPerSample {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != numChannels {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	available := len(data) - WAVHeaderSize
	if int(header.Subchunk2Size) > available {
		return nil, 0, fmt.Errorf("truncated data chunk: header declares %d bytes, %d present", header.Subchunk2Size, available)
	}

	samples := SamplesFromPCM(data[WAVHeaderSize : WAVHeaderSize+int(header.Subchunk2Size)])
	return samples, int(header.SampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != 36+dataSize {
		return fmt.Errorf("invalid WAV file: RIFF size %d does not match data size %d", riff, dataSize)
	}

	return nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid bit depth: 0")
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	duration := float64(numSamples) / float64(header.SampleRate)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

func readHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return &header, nil
}
