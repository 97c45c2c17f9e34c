package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow/internal/assert/helpers"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/engine"
	"github.com/kode4food/buildflow/pkg/api"
)

func TestNewMissingDependency(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		tests := []struct {
			name   string
			modify func(*engine.Dependencies)
		}{
			{"resolver", func(d *engine.Dependencies) { d.Resolver = nil }},
			{"store", func(d *engine.Dependencies) { d.Store = nil }},
			{"hub", func(d *engine.Dependencies) { d.Hub = nil }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				deps := env.Dependencies()
				tt.modify(&deps)
				_, err := engine.New(env.Config, deps)
				assert.ErrorIs(t, err, engine.ErrMissingDependency)
				assert.Contains(t, err.Error(), tt.name)
			})
		}
	})
}

func TestNewWithoutArchiver(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		deps := env.Dependencies()
		deps.Archiver = nil
		eng, err := engine.New(env.Config, deps)
		require.NoError(t, err)
		assert.NoError(t, eng.Stop())
	})
}

func TestNewInvalidConfig(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		cfg := *env.Config
		cfg.LockPollInterval = 0
		_, err := engine.New(&cfg, env.Dependencies())
		assert.ErrorIs(t, err, config.ErrInvalidPollInterval)
	})
}

func TestStartAndHealth(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		require.NoError(t, env.Engine.Start(ctx))
		assert.NoError(t, env.Engine.Health(ctx))
		assert.Equal(t, api.DefaultNode, env.Engine.Node())
		assert.Same(t, env.Hub, env.Engine.Hub())
	})
}

func TestStartStoreUnavailable(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Redis.Close()

		ctx := context.Background()
		err := env.Engine.Start(ctx)
		assert.ErrorIs(t, err, engine.ErrStoreUnavailable)
		assert.ErrorIs(t, env.Engine.Health(ctx), engine.ErrStoreUnavailable)
	})
}

func TestStopRefusesRuns(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		env.Jobs.Add("compile")
		require.NoError(t, env.Engine.Stop())
		assert.NoError(t, env.Engine.Stop())

		_, err := env.Engine.RunProgram(&api.StartRunRequest{
			Program: helpers.NewProgram(helpers.Invoke("compile")),
		})
		assert.ErrorIs(t, err, engine.ErrEngineStopped)
		assert.ErrorIs(t,
			env.Engine.Health(context.Background()), engine.ErrEngineStopped,
		)
		assert.False(t, env.Jobs.WasInvoked("compile"))
	})
}

func TestStopAbortsActiveRuns(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		release := env.Jobs.Block("slow")
		defer release()

		run, err := env.Engine.RunProgram(&api.StartRunRequest{
			Program: helpers.NewProgram(
				helpers.Invoke("slow"),
				helpers.Invoke("slow"),
			),
		})
		require.NoError(t, err)
		env.WaitForJob(t, "slow")

		require.NoError(t, env.Engine.Stop())
		assert.Equal(t, 0, env.Engine.ActiveRuns())

		rec, err := env.Store.Get(context.Background(), run.ID())
		require.NoError(t, err)
		assert.Equal(t, api.RunAborted, rec.Status)
		assert.Equal(t, api.Aborted, rec.Result)
		assert.Equal(t, []api.JobName{"slow"}, env.Jobs.GetInvocations())
	})
}
