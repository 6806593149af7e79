// Package wav writes 16-bit PCM RIFF/WAVE files whose header is patched in
// place once the payload length is known.
//
// The layout is the canonical 44-byte PCM header followed by the raw
// payload. No other chunk types are produced.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// HeaderSize is the length of the canonical PCM header.
const HeaderSize = 44

// ErrFinalized is returned by [Writer.Write] and [Writer.Finalize] once the
// writer has been finalized.
var ErrFinalized = errors.New("wav: writer already finalized")

// Header returns the 44-byte header for a payload of dataLen bytes in f.
func Header(f audio.Format, dataLen int) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, f, dataLen)
	return buf
}

// Encode wraps pcm in a complete in-memory WAV file.
func Encode(f audio.Format, pcm []byte) []byte {
	buf := make([]byte, HeaderSize+len(pcm))
	putHeader(buf, f, len(pcm))
	copy(buf[HeaderSize:], pcm)
	return buf
}

func putHeader(buf []byte, f audio.Format, dataLen int) {
	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}

// File is the storage a [Writer] needs. *os.File satisfies it.
type File interface {
	io.Writer
	io.WriterAt
	io.Closer
	Sync() error
}

// Writer appends PCM payload after a placeholder header and rewrites the
// header on [Writer.Finalize]. It is safe for concurrent use, although the
// recorder only writes from one goroutine.
type Writer struct {
	mu        sync.Mutex
	f         File
	format    audio.Format
	written   int
	finalized bool
}

// Create creates path (truncating an existing file) and writes the
// placeholder header.
func Create(path string, f audio.Format) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	w, err := NewWriter(file, f)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the placeholder header to file and returns a Writer
// positioned at the start of the payload.
func NewWriter(file File, f audio.Format) (*Writer, error) {
	if _, err := file.Write(make([]byte, HeaderSize)); err != nil {
		return nil, fmt.Errorf("wav: write placeholder header: %w", err)
	}
	return &Writer{f: file, format: f}, nil
}

// Write appends payload bytes. Only bytes the file accepted are counted, so a
// partial write still yields a consistent header.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return 0, ErrFinalized
	}
	n, err := w.f.Write(p)
	if n > 0 {
		w.written += n
	}
	if err != nil {
		return n, fmt.Errorf("wav: write payload: %w", err)
	}
	return n, nil
}

// Len returns the payload bytes written so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Finalize writes the real header at offset 0, syncs and closes the file.
// The file is closed even when patching fails.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true

	var errs []error
	if _, err := w.f.WriteAt(Header(w.format, w.written), 0); err != nil {
		errs = append(errs, fmt.Errorf("wav: patch header: %w", err))
	}
	if err := w.f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("wav: sync: %w", err))
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wav: close: %w", err))
	}
	return errors.Join(errs...)
}
