package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

// integrationConfig points at the InfluxDB of docker-compose.yml. Tests
// using it are skipped unless INFLUXDB_URL is set.
func integrationConfig(t *testing.T) config.InfluxDBConfig {
	t.Helper()
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		t.Skip("INFLUXDB_URL not set, skipping integration test")
	}
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "devserver-dev-token",
		Org:           "devserver",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// =============================================================================
// Options
// =============================================================================

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{"configured", 500, 2, 500, 2000},
		{"zero uses defaults", 0, 0, defaultBatchSize, 10000},
		{"negative uses defaults", -5, -1, defaultBatchSize, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := clientOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

// =============================================================================
// Connect
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{URL: "http://127.0.0.1:8086"})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose_StopsWrites(t *testing.T) {
	c, rec := newRecordingClient(true)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if rec.flushes != 1 {
		t.Errorf("flushes = %d, want 1 on Close", rec.flushes)
	}

	c.WriteOptionValue("camera/D435", "Color", "Gain", 1, time.Now())
	if len(rec.points) != 0 {
		t.Errorf("points = %d, want 0 after Close", len(rec.points))
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if rec.flushes != 1 {
		t.Errorf("flushes = %d, second Close should not flush", rec.flushes)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	c, _ := newRecordingClient(true)
	_ = c.Close()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestForwardErrors(t *testing.T) {
	c, _ := newRecordingClient(true)

	var (
		mu  sync.Mutex
		got []error
	)
	c.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	errs := make(chan error, 2)
	errs <- errors.New("batch rejected")
	errs <- errors.New("timeout")
	close(errs)
	c.forwardErrors(errs)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("callback saw %d errors, want 2", len(got))
	}
}

// =============================================================================
// Integration
// =============================================================================

func TestIntegration_WriteAndHealth(t *testing.T) {
	cfg := integrationConfig(t)

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	var (
		mu       sync.Mutex
		writeErr error
	)
	c.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	c.WriteOptionValue("camera/D435", "Color", "Exposure", 166, time.Now())
	c.WriteOptionValue("camera/D435", "", "Laser Power", 150, time.Now())
	c.WriteControlRequest("camera/D435", "set-option", "ok", 3*time.Millisecond)
	c.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}
