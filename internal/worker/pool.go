// Package worker confirms device selections in the background.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

const (
	defaultAttempts = 10
	defaultInterval = 5 * time.Second
)

// Job asks the pool to wait for a device to show up for a session.
type Job struct {
	SessionID  string
	Credential domain.Credential
	DeviceID   string
}

// DeviceRecorder stores a confirmed device as the session's active device.
type DeviceRecorder interface {
	RecordActiveDevice(ctx context.Context, sessionID, deviceID string) error
}

// Config tunes how long a device is polled for.
type Config struct {
	Attempts  int
	Interval  time.Duration
	QueueSize int
}

// Pool manages background workers that poll the provider until a chosen device appears.
type Pool struct {
	music    ports.MusicProvider
	recorder DeviceRecorder
	log      logrus.FieldLogger
	attempts int
	interval time.Duration

	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

var _ ports.DeviceWatcher = (*Pool)(nil)

// NewPool creates a pool with the given queue size. Zero config values take defaults.
func NewPool(music ports.MusicProvider, log logrus.FieldLogger, cfg Config) *Pool {
	if cfg.Attempts < 1 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		music:    music,
		log:      log.WithField("component", "device-monitor"),
		attempts: cfg.Attempts,
		interval: cfg.Interval,
		jobs:     make(chan Job, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines. Confirmed devices are reported to recorder.
func (p *Pool) Start(recorder DeviceRecorder, workers int) {
	if workers < 1 {
		workers = 1
	}
	p.recorder = recorder
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Stop cancels pending polls and waits for workers to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Submit queues a job without blocking.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.log.WithField("session_id", job.SessionID).Warnf("dropping device check for %s", job.DeviceID)
	}
}

// WatchDevice implements ports.DeviceWatcher.
func (p *Pool) WatchDevice(sessionID string, cred domain.Credential, deviceID string) {
	p.Submit(Job{SessionID: sessionID, Credential: cred, DeviceID: deviceID})
}

func (p *Pool) processJob(job Job) {
	log := p.log.WithFields(logrus.Fields{"session_id": job.SessionID, "device_id": job.DeviceID})

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.interval):
			}
		}

		devices, err := p.music.Devices(p.ctx, job.Credential)
		if err != nil {
			log.WithError(err).Debugf("device check %d/%d failed", attempt, p.attempts)
			continue
		}
		device, ok := findDevice(devices, job.DeviceID)
		if !ok {
			log.Debugf("device not visible yet (%d/%d)", attempt, p.attempts)
			continue
		}

		if !device.IsActive {
			if err := p.music.TransferPlayback(p.ctx, job.Credential, device.ID, false); err != nil {
				log.WithError(err).Warn("transfer to confirmed device failed")
			}
		}
		if p.recorder != nil {
			if err := p.recorder.RecordActiveDevice(p.ctx, job.SessionID, device.ID); err != nil {
				log.WithError(err).Warn("could not record confirmed device")
				return
			}
		}
		log.Infof("confirmed device %q", device.Name)
		return
	}
	log.Warnf("device did not appear after %d checks", p.attempts)
}

func findDevice(devices []domain.Device, id string) (domain.Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Device{}, false
}
