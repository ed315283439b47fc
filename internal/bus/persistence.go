package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// maxLoggedEventBytes bounds one logged event; feature batches are large.
const maxLoggedEventBytes = 256 << 20

// LoggedEvent represents an event that has been logged to disk.
type LoggedEvent struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLogger appends events to a JSON lines file for later replay.
type EventLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewEventLogger opens logPath for appending, creating its directory.
func NewEventLogger(logPath string) (*EventLogger, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *EventLogger) Log(topic string, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event logger is closed")
	}

	loggedEvent := LoggedEvent{
		Event:     event,
		Topic:     topic,
		Timestamp: time.Now(),
	}

	if err := l.encoder.Encode(loggedEvent); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// Close closes the log file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		l.file = nil
		l.encoder = nil
	}

	return nil
}

// ReadEventLog reads a log written by EventLogger. A missing file yields
// no events. Malformed lines are skipped.
func ReadEventLog(path string, since time.Time, limit int) ([]LoggedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []LoggedEvent{}, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	return decodeEventLog(file, since, limit)
}

func decodeEventLog(r io.Reader, since time.Time, limit int) ([]LoggedEvent, error) {
	var events []LoggedEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLoggedEventBytes)

	for scanner.Scan() {
		var loggedEvent LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &loggedEvent); err != nil {
			continue
		}

		if loggedEvent.Timestamp.After(since) {
			events = append(events, loggedEvent)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}

	return events, nil
}

// ReplayFile publishes every event of the log at path logged after since
// to bus, in order. A zero since replays the whole log.
func ReplayFile(ctx context.Context, bus Bus, path string, since time.Time) (int, error) {
	events, err := ReadEventLog(path, since, 0)
	if err != nil {
		return 0, err
	}
	if err := publishAll(ctx, bus, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

func publishAll(ctx context.Context, bus Bus, events []LoggedEvent) error {
	for _, loggedEvent := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := bus.Publish(ctx, loggedEvent.Topic, loggedEvent.Event); err != nil {
			return fmt.Errorf("failed to replay event %s: %w", loggedEvent.Event.ID, err)
		}
	}
	return nil
}
