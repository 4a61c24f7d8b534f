package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) (*Startup, *[]time.Duration) {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	var waits []time.Duration
	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

func recorder(events *[]string, name string, requires ...string) *Dependency {
	return &Dependency{
		Name:     name,
		Requires: requires,
		OnStart: func(context.Context) error {
			*events = append(*events, "start:"+name)
			return nil
		},
		OnStop: func(context.Context) error {
			*events = append(*events, "stop:"+name)
			return nil
		},
	}
}

func TestStartOrdersByRequirementsThenName(t *testing.T) {
	s, _ := newTestStartup(1)
	var events []string
	s.AddDependency(recorder(&events, "server", "database", "redis"))
	s.AddDependency(recorder(&events, "redis"))
	s.AddDependency(recorder(&events, "database"))
	s.AddDependency(recorder(&events, "migrations", "database"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:database", "start:migrations", "start:redis", "start:server"}, events)

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:server", "stop:redis", "stop:migrations", "stop:database"}, events)
	assert.Equal(t, StartupStatusStopped, s.Status("database"))
}

func TestStartRetriesWithFibonacciBackoff(t *testing.T) {
	s, waits := newTestStartup(4)
	calls := 0
	s.AddDependency(&Dependency{
		Name: "flaky",
		OnStart: func(context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("not yet")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, *waits)
}

func TestStartFailsAfterMaxAttempts(t *testing.T) {
	s, _ := newTestStartup(2)
	boom := errors.New("unreachable")
	s.AddDependency(&Dependency{Name: "broker", OnStart: func(context.Context) error { return boom }})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StartupStatusFailed, s.Status("broker"))
}

func TestStartRejectsUnknownAndCyclicDependencies(t *testing.T) {
	s, _ := newTestStartup(1)
	s.AddDependency(&Dependency{Name: "a", Requires: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")

	s, _ = newTestStartup(1)
	s.AddDependency(&Dependency{Name: "a", Requires: []string{"b"}})
	s.AddDependency(&Dependency{Name: "b", Requires: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}
