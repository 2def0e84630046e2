package stream

// ChannelBuffer is a fixed-capacity FIFO of samples for one channel.
// Appends go to the tail; once the buffer is full the oldest samples are
// overwritten. Capacity never grows.
//
// ChannelBuffer is not safe for concurrent use. Manager guards every buffer
// it owns with its own lock.
type ChannelBuffer struct {
	data []float64
	head int // index of the oldest sample
	size int
}

// NewChannelBuffer returns an empty buffer holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewChannelBuffer(capacity int) *ChannelBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelBuffer{data: make([]float64, capacity)}
}

// Append copies samples onto the tail and evicts from the head until
// Len() <= Cap(). Appending an empty slice is a no-op.
func (b *ChannelBuffer) Append(samples []float64) {
	capacity := len(b.data)
	if len(samples) == 0 {
		return
	}
	// Only the newest capacity samples can survive.
	if len(samples) >= capacity {
		copy(b.data, samples[len(samples)-capacity:])
		b.head = 0
		b.size = capacity
		return
	}

	tail := (b.head + b.size) % capacity
	n := copy(b.data[tail:], samples)
	if n < len(samples) {
		copy(b.data, samples[n:])
	}

	b.size += len(samples)
	if b.size > capacity {
		evicted := b.size - capacity
		b.head = (b.head + evicted) % capacity
		b.size = capacity
	}
}

// Len reports the number of retained samples.
func (b *ChannelBuffer) Len() int { return b.size }

// Cap reports the maximum number of retained samples.
func (b *ChannelBuffer) Cap() int { return len(b.data) }

// Values returns a copy of the retained samples, oldest first.
func (b *ChannelBuffer) Values() []float64 {
	return b.Last(b.size)
}

// Last returns a copy of the newest n samples in original order.
// n is clamped to [0, Len()].
func (b *ChannelBuffer) Last(n int) []float64 {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	start := (b.head + b.size - n) % len(b.data)
	k := copy(out, b.data[start:min(start+n, len(b.data))])
	if k < n {
		copy(out[k:], b.data[:n-k])
	}
	return out
}

// Reset drops every retained sample.
func (b *ChannelBuffer) Reset() {
	b.head = 0
	b.size = 0
}
