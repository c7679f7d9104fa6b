// Package audio converts captured floating-point frames into signed 16-bit PCM
// and serializes them as single-channel WAV buffers for upload.
package audio
