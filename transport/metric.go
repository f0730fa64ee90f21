package transport

import (
	"sync/atomic"
)

// LinkMetrics contains atomic counters for one link.
// They can back prometheus CounterFuncs; see RegisterMetrics.
type LinkMetrics struct {
	// FrameSendCount is the number of frames written, repeats included.
	FrameSendCount atomic.Uint64
	// FrameRecvCount is the number of valid reply frames received.
	FrameRecvCount atomic.Uint64
	// RetryCount is the number of repeat frames sent.
	RetryCount atomic.Uint64
	// InvalidFrameCount is the number of attempts that ended without a valid frame.
	InvalidFrameCount atomic.Uint64
	// TimeoutCount is the number of SendRcv calls that exhausted all attempts.
	TimeoutCount atomic.Uint64
}

func (m *LinkMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *LinkMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *LinkMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *LinkMetrics) incInvalidFrameCount() {
	m.InvalidFrameCount.Add(1)
}

func (m *LinkMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}
