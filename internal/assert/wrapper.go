package assert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Getter retrieves run records
	Getter interface {
		GetRun(context.Context, api.RunID) (*api.RunRecord, error)
	}

	// Wrapper wraps testify assertions with build flow helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
		Require *assert.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus build flow helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// ProgramValid asserts that a directive program is valid
func (w *Wrapper) ProgramValid(p *api.Program) {
	w.Helper()
	w.NoError(p.Validate())
	w.NotEmpty(p.Directives)
}

// ProgramInvalid asserts that a program is invalid and returns the
// validation error
func (w *Wrapper) ProgramInvalid(p *api.Program, target error) error {
	w.Helper()
	err := p.Validate()
	w.Error(err)
	if target != nil {
		w.ErrorIs(err, target)
	}
	return err
}

// RunStatus asserts the status of a run record
func (w *Wrapper) RunStatus(rec *api.RunRecord, expected api.RunStatus) {
	w.Helper()
	if w.NotNil(rec) {
		w.Equal(expected, rec.Status)
	}
}

// RunOutcome asserts both the status and the result of a run record
func (w *Wrapper) RunOutcome(
	rec *api.RunRecord, status api.RunStatus, res api.Result,
) {
	w.Helper()
	if w.NotNil(rec) {
		w.Equal(status, rec.Status)
		w.Equal(res, rec.Result)
	}
}

// JobResults asserts the result of each named job vertex in the record
func (w *Wrapper) JobResults(
	rec *api.RunRecord, expected map[api.JobName]api.Result,
) {
	w.Helper()
	if !w.NotNil(rec) || !w.NotNil(rec.Graph) {
		return
	}
	got := map[api.JobName]api.Result{}
	for _, v := range rec.Graph.Vertices {
		if v.Kind == api.VertexJob {
			got[v.Job] = v.Result
		}
	}
	w.Equal(expected, got)
}

// RunEventually waits until the stored run reaches the expected status
func (w *Wrapper) RunEventually(
	ctx context.Context, get Getter, id api.RunID, expected api.RunStatus,
	timeout time.Duration,
) *api.RunRecord {
	w.Helper()
	var rec *api.RunRecord
	w.EventuallyWithError(func() error {
		var err error
		rec, err = get.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status != expected {
			return errStatus(rec.Status)
		}
		return nil
	}, timeout, "run %s did not reach %s", id, expected)
	return rec
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.LockPollInterval > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, target error) {
	w.Helper()
	w.ErrorIs(cfg.Validate(), target)
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it succeeds
// or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}

type errStatus api.RunStatus

func (e errStatus) Error() string {
	return "run is " + string(e)
}
