// Package admission rejects requests while the process is overloaded.
//
// A background sampler measures how late its own ticker fires. When that
// delay, the heap in use or the memory obtained from the OS crosses its
// threshold, every request is turned away with 503 until the next sample
// clears the condition. An optional token bucket caps the request rate.
package admission

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KAsare1/trx-gateway/metrics"
	"golang.org/x/time/rate"
)

var (
	ErrOverloaded  = errors.New("server too busy")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RejectError is handed to the downstream error handler in propagation mode.
type RejectError struct {
	Status int
	Err    error
}

func (e *RejectError) Error() string { return e.Err.Error() }
func (e *RejectError) Unwrap() error { return e.Err }

type Config struct {
	ClientRetrySecs   int           // Retry-After value, 0 omits the header
	SampleInterval    time.Duration // sampler tick
	MaxDelay          time.Duration // 0 disables the delay check
	MaxHeapBytes      uint64        // 0 disables
	MaxRSSBytes       uint64        // 0 disables
	PropagateErrors   bool          // hand rejections to the error handler instead of answering
	MaxRequestsPerSec float64       // 0 disables the token bucket
	Burst             int
}

type memSample struct {
	heapInUse uint64
	sys       uint64
}

func readRuntimeMem() memSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memSample{heapInUse: m.HeapAlloc, sys: m.Sys}
}

type Protector struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	onError func(w http.ResponseWriter, r *http.Request, err error)
	readMem func() memSample

	overloaded atomic.Bool
	delay      atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Protector {
	p := &Protector{
		cfg:     cfg,
		logger:  logger,
		readMem: readRuntimeMem,
		stopCh:  make(chan struct{}),
	}
	if cfg.MaxRequestsPerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSec), burst)
	}
	return p
}

// SetErrorHandler installs the handler used when PropagateErrors is set.
func (p *Protector) SetErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) {
	p.onError = fn
}

// Start launches the sampler. Safe to call more than once.
func (p *Protector) Start() {
	if p.cfg.SampleInterval <= 0 {
		return
	}
	p.startOnce.Do(func() {
		go p.sampleLoop()
	})
}

// Stop shuts down the sampler. Safe to call multiple times.
func (p *Protector) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

func (p *Protector) sampleLoop() {
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.record(now.Sub(last) - p.cfg.SampleInterval)
			last = now
		}
	}
}

// record evaluates one sample and flips the overload flag.
func (p *Protector) record(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	p.delay.Store(int64(delay))
	metrics.SchedulerDelaySeconds.Set(delay.Seconds())

	reason := ""
	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		reason = "scheduler delay"
	}
	if reason == "" && (p.cfg.MaxHeapBytes > 0 || p.cfg.MaxRSSBytes > 0) {
		mem := p.readMem()
		switch {
		case p.cfg.MaxHeapBytes > 0 && mem.heapInUse > p.cfg.MaxHeapBytes:
			reason = "heap in use"
		case p.cfg.MaxRSSBytes > 0 && mem.sys > p.cfg.MaxRSSBytes:
			reason = "resident memory"
		}
	}

	over := reason != ""
	if was := p.overloaded.Swap(over); was != over {
		if over {
			p.logger.Warn("admission control engaged", "reason", reason, "delay", delay)
		} else {
			p.logger.Info("admission control released", "delay", delay)
		}
	}
}

func (p *Protector) Overloaded() bool {
	return p.overloaded.Load()
}

// Delay returns the most recently sampled scheduler delay.
func (p *Protector) Delay() time.Duration {
	return time.Duration(p.delay.Load())
}

// Wrap returns an http.Handler that applies admission control before delegating to next.
func (p *Protector) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.overloaded.Load() {
			p.reject(w, r, &RejectError{Status: http.StatusServiceUnavailable, Err: ErrOverloaded}, "overload")
			return
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.reject(w, r, &RejectError{Status: http.StatusTooManyRequests, Err: ErrRateLimited}, "rate")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Protector) reject(w http.ResponseWriter, r *http.Request, err *RejectError, reason string) {
	metrics.AdmissionRejected.WithLabelValues(reason).Inc()
	if p.cfg.ClientRetrySecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(p.cfg.ClientRetrySecs))
	}
	if p.cfg.PropagateErrors && p.onError != nil {
		p.onError(w, r, err)
		return
	}
	msg := "Server Too Busy"
	if err.Status == http.StatusTooManyRequests {
		msg = "Too Many Requests"
	}
	http.Error(w, msg, err.Status)
	p.logger.Debug("request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"reason", fmt.Sprint(err),
	)
}
