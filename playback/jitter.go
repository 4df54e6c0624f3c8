package playback

// JitterBuffer is a fixed-capacity FIFO ring of samples. Writing past
// capacity overwrites the oldest samples, so Len never exceeds Cap and the
// retained samples are always the most recent ones.
//
// JitterBuffer is not safe for concurrent use; Renderer guards it.
type JitterBuffer struct {
	buf   []int16
	head  int // index of the oldest sample
	count int
}

// NewJitterBuffer allocates a ring holding at most capacity samples.
func NewJitterBuffer(capacity int) *JitterBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &JitterBuffer{buf: make([]int16, capacity)}
}

// Cap returns the ring capacity in samples.
func (jb *JitterBuffer) Cap() int {
	return len(jb.buf)
}

// Len returns the number of buffered samples.
func (jb *JitterBuffer) Len() int {
	return jb.count
}

// Write appends samples and returns how many old samples were dropped to
// make room.
func (jb *JitterBuffer) Write(samples []int16) int {
	capacity := len(jb.buf)
	dropped := 0

	if len(samples) >= capacity {
		dropped = jb.count + len(samples) - capacity
		copy(jb.buf, samples[len(samples)-capacity:])
		jb.head = 0
		jb.count = capacity
		return dropped
	}

	if over := jb.count + len(samples) - capacity; over > 0 {
		jb.head = (jb.head + over) % capacity
		jb.count -= over
		dropped = over
	}

	tail := (jb.head + jb.count) % capacity
	n := copy(jb.buf[tail:], samples)
	copy(jb.buf, samples[n:])
	jb.count += len(samples)
	return dropped
}

// Read moves up to len(out) of the oldest samples into out and returns
// how many were copied.
func (jb *JitterBuffer) Read(out []int16) int {
	n := min(len(out), jb.count)
	if n == 0 {
		return 0
	}

	first := copy(out[:n], jb.buf[jb.head:])
	copy(out[first:n], jb.buf)

	jb.head = (jb.head + n) % len(jb.buf)
	jb.count -= n
	return n
}

// Clear drops all buffered samples.
func (jb *JitterBuffer) Clear() {
	jb.head = 0
	jb.count = 0
}
