package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimelineObserver writes one JSONL trace per call into dir, keyed by the
// call_sid tag. Events without it are skipped. The file is closed when the
// call's EventCallEnded arrives.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

type timelineEntry struct {
	Time  time.Time         `json:"time"`
	Event string            `json:"event"`
	Value float64           `json:"value,omitempty"`
	Tags  map[string]string `json:"tags,omitempty"`
}

func (o *TimelineObserver) RecordEvent(ev MetricsEvent) {
	id := safeID(ev.Tags["call_sid"])
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	line, err := json.Marshal(timelineEntry{
		Time:  ev.Time.UTC(),
		Event: ev.Name,
		Value: ev.Value,
		Tags:  ev.Tags,
	})
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileLocked(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	if ev.Name == EventCallEnded {
		_ = f.Close()
		delete(o.files, id)
	}
}

// Close closes every open trace.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

func (o *TimelineObserver) fileLocked(id string) *os.File {
	if f := o.files[id]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[id] = f
	return f
}

func safeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

var _ Observer = (*TimelineObserver)(nil)
