package bootstrap_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/kompics/bootstrap"
)

// journal records service calls in order
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type testService struct {
	name     string
	log      *journal
	startErr error
	stopErr  error
	healthy  bool
}

func (s *testService) Name() string { return s.name }

func (s *testService) Start(ctx context.Context) error {
	s.log.add("start:" + s.name)
	if s.startErr != nil {
		return s.startErr
	}
	s.healthy = true
	return nil
}

func (s *testService) Stop(ctx context.Context) error {
	s.log.add("stop:" + s.name)
	s.healthy = false
	return s.stopErr
}

func (s *testService) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	if !s.healthy {
		return bootstrap.HealthStatus{}, errors.New("down")
	}
	return bootstrap.HealthStatus{State: bootstrap.HealthHealthy}, nil
}

func TestLifecycleManager_Order(t *testing.T) {
	lm := bootstrap.NewLifecycleManager(quietLogger())
	log := &journal{}

	require.NoError(t, lm.Register("api", &testService{name: "api", log: log}, "db", "cache"))
	require.NoError(t, lm.Register("db", &testService{name: "db", log: log}))
	require.NoError(t, lm.Register("cache", &testService{name: "cache", log: log}, "db"))
	require.NoError(t, lm.Register("audit", &testService{name: "audit", log: log}))

	assert.Equal(t, []string{"api", "audit", "cache", "db"}, lm.Services())

	health, err := lm.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bootstrap.HealthUnhealthy, health["db"].State)

	require.NoError(t, lm.Start(context.Background()))
	assert.True(t, lm.IsStarted())
	assert.ErrorIs(t, lm.Start(context.Background()), bootstrap.ErrAlreadyStarted)
	assert.ErrorIs(t, lm.Register("late", &testService{name: "late", log: log}), bootstrap.ErrAlreadyStarted)

	health, err = lm.Health(context.Background())
	require.NoError(t, err)
	for name, st := range health {
		assert.Equal(t, bootstrap.HealthHealthy, st.State, name)
		assert.False(t, st.LastCheck.IsZero(), name)
	}

	require.NoError(t, lm.Stop(context.Background()))
	require.NoError(t, lm.Stop(context.Background()))
	assert.False(t, lm.IsStarted())

	assert.Equal(t, []string{
		"start:db", "start:cache", "start:api", "start:audit",
		"stop:audit", "stop:api", "stop:cache", "stop:db",
	}, log.list())
}

func TestLifecycleManager_StartFailureStopsStarted(t *testing.T) {
	lm := bootstrap.NewLifecycleManager(quietLogger())
	log := &journal{}
	failure := errors.New("no disk")

	require.NoError(t, lm.Register("a", &testService{name: "a", log: log}))
	require.NoError(t, lm.Register("b", &testService{name: "b", log: log, startErr: failure}, "a"))
	require.NoError(t, lm.Register("c", &testService{name: "c", log: log}, "b"))

	err := lm.Start(context.Background())
	require.ErrorIs(t, err, failure)
	var appErr *bootstrap.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "b", appErr.Service)
	assert.Equal(t, "start failed for service b: no disk", appErr.Error())

	assert.False(t, lm.IsStarted())
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, log.list())
}

func TestLifecycleManager_StopErrors(t *testing.T) {
	lm := bootstrap.NewLifecycleManager(quietLogger())
	log := &journal{}
	failure := errors.New("stuck")

	require.NoError(t, lm.Register("a", &testService{name: "a", log: log, stopErr: failure}))
	require.NoError(t, lm.Register("b", &testService{name: "b", log: log}, "a"))
	require.NoError(t, lm.Start(context.Background()))

	err := lm.Stop(context.Background())
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log.list())
}

func TestLifecycleManager_RegisterValidation(t *testing.T) {
	lm := bootstrap.NewLifecycleManager(nil)
	svc := &testService{name: "x", log: &journal{}}

	assert.ErrorIs(t, lm.Register("", svc), bootstrap.ErrEmptyServiceName)
	assert.ErrorIs(t, lm.Register("x", nil), bootstrap.ErrNilService)
	require.NoError(t, lm.Register("x", svc))
	assert.ErrorIs(t, lm.Register("x", svc), bootstrap.ErrServiceExists)
}

func TestLifecycleManager_DependencyErrors(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		lm := bootstrap.NewLifecycleManager(quietLogger())
		require.NoError(t, lm.Register("a", &testService{name: "a", log: &journal{}}, "ghost"))
		assert.ErrorIs(t, lm.Start(context.Background()), bootstrap.ErrUnknownDependency)
	})

	t.Run("circular", func(t *testing.T) {
		lm := bootstrap.NewLifecycleManager(quietLogger())
		require.NoError(t, lm.Register("a", &testService{name: "a", log: &journal{}}, "b"))
		require.NoError(t, lm.Register("b", &testService{name: "b", log: &journal{}}, "a"))
		assert.ErrorIs(t, lm.Start(context.Background()), bootstrap.ErrCircularDependency)
	})
}
