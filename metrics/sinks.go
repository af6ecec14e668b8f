package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// FileSink appends events as NDJSON to a daily file. The file opens
// lazily; most hook runs never record past the first allow.
type FileSink struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	writer *bufio.Writer
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Write(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	for _, ev := range batch {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling metric event: %w", err)
		}
		if _, err := s.writer.Write(line); err != nil {
			return fmt.Errorf("writing metric event: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing metric event: %w", err)
		}
	}
	return s.writer.Flush()
}

func (s *FileSink) open() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}

	name := fmt.Sprintf("vahti-metrics-%s.ndjson", time.Now().Format("20060102"))
	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- path is built from configured dir
	if err != nil {
		return fmt.Errorf("opening metrics file: %w", err)
	}

	s.file = file
	s.writer = bufio.NewWriter(file)
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// PushgatewaySink pushes batch totals to a Prometheus Pushgateway,
// the scrape path for processes that exit before any scraper arrives.
// Per-event labels stay in the NDJSON sink; the gateway gets one
// counter keyed by event name so cardinality stays bounded.
type PushgatewaySink struct {
	url string
	job string
}

func NewPushgatewaySink(url, job string) *PushgatewaySink {
	return &PushgatewaySink{url: url, job: job}
}

func (s *PushgatewaySink) Write(ctx context.Context, batch []Event) error {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vahti_events_total",
		Help: "Hook events recorded by vahti, by event name.",
	}, []string{"event"})

	lastSeen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vahti_last_event_timestamp_seconds",
		Help: "Unix time of the most recent flushed event.",
	})

	var newest time.Time
	for _, ev := range batch {
		events.WithLabelValues(ev.Name).Add(ev.Value)
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	if !newest.IsZero() {
		lastSeen.Set(float64(newest.Unix()))
	}

	return push.New(s.url, s.job).
		Collector(events).
		Collector(lastSeen).
		AddContext(ctx)
}

func (s *PushgatewaySink) Close() error { return nil }
