package media

import (
	"fmt"
	"io"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a stream of 16-bit mono PCM from one sample rate to
// another.
type Resampler struct {
	src     io.Reader
	srcRate int
	dstRate int

	mu       sync.Mutex
	rs       resampling.Resampler
	readBuf  []byte
	odd      []byte
	leftover []byte
	closeErr error
}

// NewResampler returns a reader yielding src resampled from srcRate to
// dstRate. Equal rates pass the audio through untouched.
func NewResampler(src io.Reader, srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("media: invalid sample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{src: src, srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("media: create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Read fills p with resampled audio. It always returns an even number of
// bytes. It is not safe for concurrent use with itself.
func (r *Resampler) Read(p []byte) (int, error) {
	p = p[:len(p)&^1]
	if len(p) == 0 {
		return 0, io.ErrShortBuffer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.leftover) > 0 {
		n := copy(p, r.leftover)
		r.leftover = r.leftover[n:]
		return n, nil
	}
	if r.closeErr != nil {
		return 0, r.closeErr
	}

	want := len(p)
	if r.rs != nil {
		want = len(p)*r.srcRate/r.dstRate + 8
	}
	if cap(r.readBuf) < want+1 {
		r.readBuf = make([]byte, want+1)
	}
	buf := r.readBuf[:want+1]
	held := copy(buf, r.odd)
	r.odd = r.odd[:0]

	n, readErr := r.src.Read(buf[held:want])
	n += held
	if n%2 == 1 {
		// Keep the dangling byte for the next read.
		r.odd = append(r.odd, buf[n-1])
		n--
	}
	if n == 0 {
		return 0, readErr
	}

	if r.rs == nil {
		return copy(p, buf[:n]), readErr
	}

	input := make([]float64, n/2)
	for i := range input {
		s := int16(buf[2*i]) | int16(buf[2*i+1])<<8
		input[i] = float64(s) / 32768.0
	}
	output, err := r.rs.Process(input)
	if err != nil {
		return 0, fmt.Errorf("media: resample: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	copied := copy(p, out)
	if copied < len(out) {
		r.leftover = append(r.leftover, out[copied:]...)
	}
	return copied, readErr
}

// Close releases the resampler and closes src if it is an io.Closer.
// Subsequent reads fail with io.ErrClosedPipe once buffered output is
// drained.
func (r *Resampler) Close() error {
	// src first: a Read blocked on it holds the lock.
	var err error
	if c, ok := r.src.(io.Closer); ok {
		err = c.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr == nil {
		r.closeErr = fmt.Errorf("media: resampler: %w", io.ErrClosedPipe)
	}
	r.rs = nil
	return err
}
