package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.log = append(*r.log, "start "+r.name)
	return nil
}

func (r recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return nil
}

func TestManagerStartsInOrderAndStopsInReverse(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordingService{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Register(NoopService{ServiceName: "a"}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if len(log) != len(want) {
		t.Fatalf("unexpected sequence %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q", i, want[i], log[i])
		}
	}
}

func TestManagerUnwindsOnStartFailure(t *testing.T) {
	var log []string
	m := NewManager()
	_ = m.Register(recordingService{name: "a", log: &log})
	_ = m.Register(recordingService{name: "b", log: &log, startErr: errors.New("no port")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	if len(log) != 2 || log[0] != "start a" || log[1] != "stop a" {
		t.Fatalf("expected a to be stopped after b failed, got %v", log)
	}
}
