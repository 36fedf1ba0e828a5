package uploader

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parnexcodes/droppush/internal/logging"
)

// DefaultSampleInterval is the throughput sampling period
const DefaultSampleInterval = 600 * time.Millisecond

// ThroughputSampler derives a bytes-per-second rate from a cumulative byte
// counter read once per interval
type ThroughputSampler struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	source    func() int64
	lastBytes int64
	lastTime  time.Time
	stop      chan struct{}
	done      chan struct{}

	rate atomic.Uint64 // float64 bits
}

func NewThroughputSampler(interval time.Duration) *ThroughputSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &ThroughputSampler{interval: interval, now: time.Now}
}

// Start begins sampling source. It reports false and changes nothing when
// the sampler is already running.
func (s *ThroughputSampler) Start(source func() int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return false
	}

	s.reset(source)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	return true
}

// Stop halts sampling and zeroes the rate
func (s *ThroughputSampler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	s.rate.Store(0)
}

// Active reports whether sampling is running
func (s *ThroughputSampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Rate returns the last sampled rate in bytes per second
func (s *ThroughputSampler) Rate() float64 {
	return math.Float64frombits(s.rate.Load())
}

func (s *ThroughputSampler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// reset sets the baseline; callers hold mu
func (s *ThroughputSampler) reset(source func() int64) {
	s.source = source
	s.lastBytes = source()
	s.lastTime = s.now()
	s.rate.Store(0)
}

func (s *ThroughputSampler) sample() {
	s.mu.Lock()
	if s.source == nil {
		s.mu.Unlock()
		return
	}
	current := s.source()
	now := s.now()
	elapsed := now.Sub(s.lastTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = math.Max(0, float64(current-s.lastBytes)/elapsed)
	}
	s.lastBytes = current
	s.lastTime = now
	s.mu.Unlock()

	if elapsed > 0 {
		s.rate.Store(math.Float64bits(rate))
		logging.ThroughputSample(rate)
	}
}
