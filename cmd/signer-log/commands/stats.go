package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[log.Category]int
	Sessions         map[string]*SessionStats
	ErrorsByCode     map[hw.Code]int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	DevicePath  string
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Transitions int
	LastStatus  string
	Requests    int
	Failures    int
	Busy        time.Duration
}

// CollectStats reads the matching events of path.
func CollectStats(path string, opts FilterOptions) (*Stats, error) {
	reader, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[log.Category]int),
		Sessions:         make(map[string]*SessionStats),
		ErrorsByCode:     make(map[hw.Code]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		s, ok := stats.Sessions[event.SessionID]
		if !ok {
			s = &SessionStats{
				DevicePath: event.DevicePath,
				FirstSeen:  event.Timestamp,
				LastSeen:   event.Timestamp,
			}
			stats.Sessions[event.SessionID] = s
		}
		s.Events++
		if event.Timestamp.After(s.LastSeen) {
			s.LastSeen = event.Timestamp
		}

		switch {
		case event.StateChange != nil:
			s.Transitions++
			s.LastStatus = event.StateChange.NewState
		case event.Request != nil:
			s.Requests++
			s.Busy += event.Request.Duration
			if event.Request.Outcome == log.OutcomeFailure {
				s.Failures++
			}
		case event.Error != nil:
			stats.ErrorsByCode[hw.Code(event.Error.Code)]++
		}
	}

	return stats, nil
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, opts FilterOptions, w io.Writer) error {
	stats, err := CollectStats(path, opts)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Signer Session Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryState, log.CategoryRequest, log.CategoryError, log.CategoryPublished} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	ids := make([]string, 0, len(stats.Sessions))
	for id := range stats.Sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return stats.Sessions[ids[i]].FirstSeen.Before(stats.Sessions[ids[j]].FirstSeen)
	})
	for _, id := range ids {
		s := stats.Sessions[id]
		fmt.Fprintf(w, "  [%s] %s: %d events, %d transitions, %d requests (%d failed, busy %s)\n",
			shortenID(id), s.DevicePath, s.Events, s.Transitions, s.Requests, s.Failures, formatDuration(s.Busy))
		if s.LastStatus != "" {
			fmt.Fprintf(w, "           Last status: %s\n", s.LastStatus)
		}
	}

	if len(stats.ErrorsByCode) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors by Code:")
		codes := make([]hw.Code, 0, len(stats.ErrorsByCode))
		for c := range stats.ErrorsByCode {
			codes = append(codes, c)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for _, c := range codes {
			fmt.Fprintf(w, "  %-18s %d\n", c.String()+":", stats.ErrorsByCode[c])
		}
	}
}
