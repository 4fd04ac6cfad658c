package commands

import (
	"fmt"
	"time"

	"github.com/TripleSpeeder/frame/pkg/log"
)

// FilterOptions are the event selection flags shared by all commands.
type FilterOptions struct {
	SessionID  string
	DevicePath string
	Category   string
	TimeStart  string
	TimeEnd    string
}

// Filter converts the options into a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		SessionID:  o.SessionID,
		DevicePath: o.DevicePath,
	}

	if o.Category != "" {
		c, ok := log.ParseCategory(o.Category)
		if !ok {
			return log.Filter{}, fmt.Errorf("invalid category: %s (must be state, request, error or published)", o.Category)
		}
		filter.Category = &c
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	return filter, nil
}

// open returns a reader over the events of path that match opts.
func open(path string, opts FilterOptions) (*log.Reader, error) {
	filter, err := opts.Filter()
	if err != nil {
		return nil, err
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return reader, nil
}
