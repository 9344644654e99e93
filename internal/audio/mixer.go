package audio

import (
	"math"
	"sync"
)

const (
	sourceSystem = 0
	sourceMic    = 1
)

// pcmMixer merges s16le PCM from up to two sources into one mixed stream and
// tracks amplitude statistics for the level meter. Overlapping samples are
// summed with clipping; if only one source is active its audio passes through.
type pcmMixer struct {
	mu      sync.Mutex
	pending [2][]byte
	active  [2]bool

	out []byte

	sumSquares float64
	samples    int
}

func newPCMMixer() *pcmMixer {
	return &pcmMixer{}
}

func (m *pcmMixer) activate(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[idx] = true
}

// deactivate marks a source finished and flushes whatever it still buffered,
// so the surviving source keeps flowing alone.
func (m *pcmMixer) deactivate(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainLocked()
	m.flushLocked(idx)
	m.active[idx] = false
	m.drainLocked()
}

func (m *pcmMixer) push(idx int, data []byte) {
	if len(data) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[idx] = append(m.pending[idx], data...)
	m.drainLocked()
}

// takeChunk returns the mixed audio accumulated since the last call, in
// capture order.
func (m *pcmMixer) takeChunk() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.out) == 0 {
		return nil
	}
	chunk := m.out
	m.out = nil
	return chunk
}

// level returns the normalized RMS amplitude of samples mixed since the last
// call and resets the accumulator.
func (m *pcmMixer) level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == 0 {
		return 0
	}
	rms := math.Sqrt(m.sumSquares/float64(m.samples)) / 32768
	m.sumSquares = 0
	m.samples = 0
	if rms > 1 {
		rms = 1
	}
	return rms
}

func (m *pcmMixer) drainLocked() {
	if m.active[sourceSystem] && m.active[sourceMic] {
		n := len(m.pending[sourceSystem])
		if len(m.pending[sourceMic]) < n {
			n = len(m.pending[sourceMic])
		}
		n -= n % 2
		if n == 0 {
			return
		}
		for i := 0; i < n; i += 2 {
			a := int16le(m.pending[sourceSystem][i:])
			b := int16le(m.pending[sourceMic][i:])
			m.appendSampleLocked(clampSample(int(a) + int(b)))
		}
		m.pending[sourceSystem] = m.pending[sourceSystem][n:]
		m.pending[sourceMic] = m.pending[sourceMic][n:]
		return
	}

	for idx := range m.pending {
		if m.active[idx] {
			m.flushLocked(idx)
		}
	}
}

func (m *pcmMixer) flushLocked(idx int) {
	n := len(m.pending[idx])
	n -= n % 2
	for i := 0; i < n; i += 2 {
		m.appendSampleLocked(int16le(m.pending[idx][i:]))
	}
	m.pending[idx] = m.pending[idx][n:]
}

func (m *pcmMixer) appendSampleLocked(sample int16) {
	m.out = append(m.out, byte(uint16(sample)), byte(uint16(sample)>>8))
	m.sumSquares += float64(sample) * float64(sample)
	m.samples++
}

func int16le(b []byte) int16 {
	return int16(uint16(b[0]) | uint16(b[1])<<8)
}

func clampSample(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
