// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"

	"agent-triggers/internal/dispatch"
)

// RecordingDispatcher records every request it accepts. Setting Err makes
// Dispatch fail synchronously.
type RecordingDispatcher struct {
	mu       sync.Mutex
	requests []*dispatch.Request
	Err      error
}

// NewRecordingDispatcher creates an empty recorder
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Name() string { return "recording" }

func (d *RecordingDispatcher) Dispatch(ctx context.Context, req *dispatch.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.requests = append(d.requests, req)
	return nil
}

func (d *RecordingDispatcher) Health(ctx context.Context) error { return nil }

func (d *RecordingDispatcher) Close() error { return nil }

// SetErr changes the dispatch error
func (d *RecordingDispatcher) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Requests returns a copy of the accepted requests
func (d *RecordingDispatcher) Requests() []*dispatch.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*dispatch.Request(nil), d.requests...)
}
