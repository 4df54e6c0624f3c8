package transport

import "time"

// TimeProvider supplies the receiver's notion of now. Tests inject a
// manual clock to drive connection timeouts and ACK pacing.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// getTimeProvider falls back to the system clock when tp is nil.
func getTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
