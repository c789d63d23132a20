package agent

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/agent/config"
	"github.com/brianhealey/smart-inventory/internal/agent/outbox"
	"github.com/brianhealey/smart-inventory/internal/agent/processing"
	"github.com/brianhealey/smart-inventory/internal/agent/sensor"
)

// Service runs the device pipeline: a polling loop classifying sensor
// samples into the outbox, and an uploader goroutine draining it in
// batches. Both workers share the outbox; it serializes internally.
type Service struct {
	cfg        *config.Config
	queue      *outbox.Outbox
	client     Poster
	sensors    []sensor.Sensor
	processors map[string]*processing.Processor
	meta       []SensorMeta

	stop chan struct{}

	// Uploader state, touched only by the uploader goroutine.
	lastFlush   time.Time
	nextRetryAt time.Time
	retryDelay  time.Duration
}

// New wires the service from config. Sensors that fail to initialize are
// logged and skipped; zero surviving sensors is an error.
func New(cfg *config.Config) (*Service, error) {
	queue, err := outbox.Open(cfg.Storage.QueueDBPath, outbox.Options{
		MaxRows: cfg.Storage.MaxQueueRows,
		MaxAge:  time.Duration(cfg.Storage.MaxQueueAgeSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	client, err := NewClient(cfg.Network)
	if err != nil {
		queue.Close()
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		queue:      queue,
		client:     client,
		processors: make(map[string]*processing.Processor),
		stop:       make(chan struct{}),
		retryDelay: time.Second,
	}

	for _, sensorCfg := range cfg.Sensors {
		drv, err := sensor.New(sensorCfg.ID, sensorCfg.Type, sensorCfg.Params)
		if err != nil {
			logrus.WithField("sensor_id", sensorCfg.ID).Errorf("Sensor failed to initialize: %v", err)
			continue
		}

		s.sensors = append(s.sensors, drv)
		s.processors[sensorCfg.ID] = processing.NewProcessor(processing.ProcessorConfig{
			SensorID:           sensorCfg.ID,
			Mode:               sensorCfg.EffectiveMode(),
			DebounceMS:         sensorCfg.DebounceMS,
			Thresholds:         sensorCfg.Thresholds,
			StateMap:           sensorCfg.StateMap,
			ReportOnChangeOnly: sensorCfg.EffectiveReportOnChange(cfg.Runtime),
		})
		s.meta = append(s.meta, SensorMeta{
			SensorID:   sensorCfg.ID,
			Type:       sensorCfg.Type,
			Thresholds: sensorCfg.Thresholds,
			StateMap:   sensorCfg.StateMap,
		})
	}

	if len(s.sensors) == 0 {
		queue.Close()
		return nil, fmt.Errorf("no sensors initialized")
	}
	return s, nil
}

// Stop requests a cooperative shutdown. The poll loop exits at its next
// boundary; pending outbox rows survive for the next start.
func (s *Service) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Run blocks until Stop. It owns the polling loop and joins the uploader
// with a bounded wait on the way out.
func (s *Service) Run() error {
	logrus.WithField("device_id", s.cfg.Device.ID).Info("Device service starting")

	pollInterval := time.Duration(s.cfg.Runtime.PollIntervalMS) * time.Millisecond
	if pollInterval < 50*time.Millisecond {
		pollInterval = 50 * time.Millisecond
	}

	uploaderDone := make(chan struct{})
	go func() {
		defer close(uploaderDone)
		s.uploadLoop()
	}()

	for {
		select {
		case <-s.stop:
			select {
			case <-uploaderDone:
			case <-time.After(2 * time.Second):
				logrus.Warn("Uploader did not stop in time")
			}
			if err := s.queue.Close(); err != nil {
				logrus.Warnf("Failed to close outbox: %v", err)
			}
			logrus.Info("Device service stopped")
			return nil
		default:
		}

		loopStart := time.Now()
		if err := s.pollOnce(loopStart); err != nil {
			// The queue backing is required; without it readings
			// would be silently lost.
			s.Stop()
			<-uploaderDone
			s.queue.Close()
			return fmt.Errorf("outbox write failed: %w", err)
		}

		sleepFor := pollInterval - time.Since(loopStart)
		if sleepFor > 0 {
			select {
			case <-s.stop:
			case <-time.After(sleepFor):
			}
		}
	}
}

func (s *Service) pollOnce(now time.Time) error {
	tsISO := now.UTC().Format(time.RFC3339Nano)
	for _, drv := range s.sensors {
		sample, ok := drv.Read()
		if !ok {
			continue
		}
		proc := s.processors[drv.ID()]
		if proc == nil {
			continue
		}
		reading := proc.Process(sample.Raw, sample.Normalized, now, tsISO)
		if reading == nil {
			continue
		}
		seq, err := s.queue.Enqueue(*reading)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"sensor_id": drv.ID(),
			"seq_id":    seq,
			"state":     reading.State,
		}).Debug("Reading queued")
	}
	return nil
}

func (s *Service) uploadLoop() {
	interval := time.Second
	if flush := s.flushInterval(); flush > 0 && flush < interval {
		interval = flush
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.flush(now)
		}
	}
}

func (s *Service) flushInterval() time.Duration {
	return time.Duration(s.cfg.Network.FlushIntervalSeconds) * time.Second
}

// flush uploads one batch when due: either a full batch is waiting or the
// flush interval has elapsed since the last successful upload.
func (s *Service) flush(now time.Time) {
	if now.Before(s.nextRetryAt) {
		return
	}

	pending, err := s.queue.PendingCount()
	if err != nil {
		logrus.Errorf("Failed to count pending readings: %v", err)
		return
	}
	if pending == 0 {
		return
	}
	if pending < s.cfg.Network.BatchSize && now.Sub(s.lastFlush) < s.flushInterval() {
		return
	}

	batch, err := s.queue.GetBatch(s.cfg.Network.BatchSize)
	if err != nil {
		logrus.Errorf("Failed to read batch: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	payload := BatchPayload{
		DeviceID:   s.cfg.Device.ID,
		Firmware:   s.cfg.Device.Firmware,
		SentAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Readings:   batch,
		SensorMeta: s.meta,
	}

	resp, err := s.client.PostBatch(payload)
	if err != nil {
		logrus.Warnf("Upload failed: %v", err)
		s.scheduleRetry(now)
		return
	}

	ack := batch[len(batch)-1].SeqID
	if resp.AckSeqID != nil {
		ack = *resp.AckSeqID
	}
	if err := s.queue.AckUpTo(ack); err != nil {
		logrus.Errorf("Failed to ack readings: %v", err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"count":   len(batch),
		"ack_seq": ack,
	}).Info("Batch uploaded")
	s.lastFlush = now
	s.retryDelay = time.Second
}

func (s *Service) scheduleRetry(now time.Time) {
	s.nextRetryAt = now.Add(s.retryDelay)
	max := time.Duration(s.cfg.Network.RetryMaxSeconds) * time.Second
	s.retryDelay *= 2
	if s.retryDelay > max {
		s.retryDelay = max
	}
}
