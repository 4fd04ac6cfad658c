package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/log"
)

const (
	sessionA = "6f1c2a3b-0000-5000-8000-000000000001"
	sessionB = "9a8b7c6d-0000-5000-8000-000000000002"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.slog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts, SessionID: sessionA, DevicePath: "sim://0", Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{OldState: "CONNECTING", NewState: "DERIVING", Reason: "derive"},
		},
		{
			Timestamp: ts.Add(time.Second), SessionID: sessionA, DevicePath: "sim://0", Category: log.CategoryRequest,
			Request: &log.RequestEvent{Kind: "deriveAddress", Outcome: log.OutcomeSuccess, Duration: 12 * time.Millisecond},
		},
		{
			Timestamp: ts.Add(2 * time.Second), SessionID: sessionA, DevicePath: "sim://0", Category: log.CategoryRequest,
			Request: &log.RequestEvent{Kind: "deriveAddress", Outcome: log.OutcomeFailure, Duration: 3 * time.Millisecond},
		},
		{
			Timestamp: ts.Add(2 * time.Second), SessionID: sessionA, DevicePath: "sim://0", Category: log.CategoryError,
			Error: &log.ErrorEventData{Code: int(hw.CodeDeviceAsleep), Message: "device asleep", Context: "LOCKED"},
		},
		{
			Timestamp: ts.Add(2 * time.Second), SessionID: sessionA, DevicePath: "sim://0", Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{OldState: "DERIVING", NewState: "LOCKED", Reason: "derive address"},
		},
		{
			Timestamp: ts.Add(3 * time.Second), SessionID: sessionB, DevicePath: "sim://1", Category: log.CategoryPublished,
			Published: &log.PublishedEvent{Type: "update", Status: "OK", AddressCount: 5},
		},
	}
}

func TestView(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [session:6f1c2a3b] STATE",
		"CONNECTING -> DERIVING",
		"Reason: derive",
		"deriveAddress SUCCESS in 12.0ms",
		"Code: DEVICE_ASLEEP",
		"Classified: LOCKED",
		"update (OK, 5 addresses)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	tests := []struct {
		name  string
		opts  FilterOptions
		count int
	}{
		{"all", FilterOptions{}, 6},
		{"session", FilterOptions{SessionID: sessionB}, 1},
		{"device", FilterOptions{DevicePath: "sim://0"}, 5},
		{"category", FilterOptions{Category: "request"}, 2},
		{"time range", FilterOptions{TimeStart: "2026-03-02T09:30:01Z", TimeEnd: "2026-03-02T09:30:03Z"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.opts, &buf); err != nil {
				t.Fatalf("RunView failed: %v", err)
			}
			if got := strings.Count(buf.String(), "[session:"); got != tt.count {
				t.Errorf("events = %d, want %d", got, tt.count)
			}
		})
	}
}

func TestFilterOptionsInvalid(t *testing.T) {
	for _, opts := range []FilterOptions{
		{Category: "frames"},
		{TimeStart: "yesterday"},
		{TimeEnd: "2026-13-01"},
	} {
		if _, err := opts.Filter(); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}

func TestViewMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := RunView(filepath.Join(t.TempDir(), "missing.slog"), FilterOptions{}, &buf); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	stats, err := CollectStats(path, FilterOptions{})
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}

	if stats.TotalEvents != 6 {
		t.Errorf("TotalEvents = %d, want 6", stats.TotalEvents)
	}
	if stats.EventsByCategory[log.CategoryRequest] != 2 {
		t.Errorf("requests = %d, want 2", stats.EventsByCategory[log.CategoryRequest])
	}
	if len(stats.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(stats.Sessions))
	}

	a := stats.Sessions[sessionA]
	if a.Transitions != 2 || a.LastStatus != "LOCKED" {
		t.Errorf("session A transitions = %d last = %q", a.Transitions, a.LastStatus)
	}
	if a.Requests != 2 || a.Failures != 1 || a.Busy != 15*time.Millisecond {
		t.Errorf("session A requests = %d failures = %d busy = %v", a.Requests, a.Failures, a.Busy)
	}
	if stats.ErrorsByCode[hw.CodeDeviceAsleep] != 1 {
		t.Errorf("asleep errors = %d, want 1", stats.ErrorsByCode[hw.CodeDeviceAsleep])
	}

	var buf bytes.Buffer
	if err := RunStats(path, FilterOptions{}, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Total Events: 6", "REQUEST:", "Sessions: 2", "Last status: LOCKED", "DEVICE_ASLEEP:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestStatsEmpty(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, FilterOptions{}, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out, FilterOptions{Category: "state"}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var event log.Event
	if err := json.Unmarshal([]byte(lines[1]), &event); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if event.StateChange == nil || event.StateChange.NewState != "LOCKED" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out, FilterOptions{}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 7 {
		t.Fatalf("rows = %d, want 7", len(rows))
	}
	if rows[2][4] != "deriveAddress" || rows[2][5] != "SUCCESS" || rows[2][6] != "12000000" {
		t.Errorf("unexpected request row: %v", rows[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", "", FilterOptions{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
