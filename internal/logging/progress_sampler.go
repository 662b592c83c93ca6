package logging

import "time"

// ProgressSampler thins stage progress logs. An update is logged when the
// percentage enters a new bucket, when it reaches 100, or when heartbeat has
// passed since the last logged update and the value moved.
type ProgressSampler struct {
	bucketSize float64
	heartbeat  time.Duration
	lastBucket int
	lastValue  float64
	lastEmit   time.Time
	finished   bool
}

// NewProgressSampler constructs a sampler. bucketSize defaults to 10 percent;
// a zero heartbeat disables time-based emission.
func NewProgressSampler(bucketSize float64, heartbeat time.Duration) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, heartbeat: heartbeat, lastBucket: -1, lastValue: -1}
}

// ShouldLog reports whether the update at now should be logged. A nil
// sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, now time.Time) bool {
	if s == nil {
		return true
	}
	percent = min(max(percent, 0), 100)
	if s.finished {
		return false
	}
	emit := false
	switch bucket := int(percent / s.bucketSize); {
	case percent >= 100:
		s.finished = true
		emit = true
	case bucket > s.lastBucket:
		emit = true
	case s.heartbeat > 0 && percent != s.lastValue && now.Sub(s.lastEmit) >= s.heartbeat:
		emit = true
	}
	if emit {
		s.lastBucket = int(percent / s.bucketSize)
		s.lastValue = percent
		s.lastEmit = now
	}
	return emit
}
