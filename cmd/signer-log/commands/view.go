// Package commands implements the signer-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints the matching events of path in human-readable form.
func RunView(path string, opts FilterOptions, w io.Writer) error {
	reader, err := open(path, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a header line and the payload details of event.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)
	fmt.Fprintf(w, "%s [session:%s] %-9s %s\n", ts, shortenID(event.SessionID), event.Category.String(), event.DevicePath)

	switch {
	case event.StateChange != nil:
		sc := event.StateChange
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Request != nil:
		fmt.Fprintf(w, "  %s %s in %s\n", event.Request.Kind, event.Request.Outcome.String(), formatDuration(event.Request.Duration))
	case event.Error != nil:
		fmt.Fprintf(w, "  Code: %s\n", hw.Code(event.Error.Code).String())
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Classified: %s\n", event.Error.Context)
		}
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
	case event.Published != nil:
		fmt.Fprintf(w, "  %s (%s, %d addresses)\n", event.Published.Type, event.Published.Status, event.Published.AddressCount)
	}

	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%dus", d.Microseconds())
	}
}
