package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/config"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Automation: config.AutomationConfig{
			BaseURL:         "https://note.com",
			TimeoutMs:       1000,
			LookupTimeoutMs: 100,
			Headless:        true,
			MaxParallel:     1,
		},
		Worker: config.WorkerConfig{
			Enabled:       true,
			Concurrency:   2,
			IdleDelayMs:   10,
			ActiveDelayMs: 10,
			MaxAttempts:   3,
		},
		Vault:   config.VaultConfig{Key: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))},
		Storage: config.StorageConfig{Backend: config.StorageLocal, LocalDir: filepath.Join(t.TempDir(), "artifacts"), Prefix: "failures"},
	}
}

func TestBuildWiresInMemoryBackends(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.Equal(t, 2, app.dispatch.Size())
	require.Nil(t, app.pgStore)
	require.Nil(t, app.pubsub)
	require.Nil(t, app.gcs)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildWithoutWorkers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Worker.Enabled = false
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.Zero(t, app.dispatch.Size())
}

func TestBuildReturnsConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, cfg *config.Config)
		want   string
	}{
		{
			name:   "short vault key",
			mutate: func(_ *testing.T, cfg *config.Config) { cfg.Vault.Key = "c2hvcnQ=" },
			want:   "vault init failed",
		},
		{
			name:   "vault key not base64",
			mutate: func(_ *testing.T, cfg *config.Config) { cfg.Vault.Key = "not-base64!!" },
			want:   "vault init failed",
		},
		{
			name: "artifact dir is a file",
			mutate: func(t *testing.T, cfg *config.Config) {
				path := filepath.Join(t.TempDir(), "blocker")
				require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
				cfg.Storage.LocalDir = path
			},
			want: "local blob store init failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(t, cfg)

			var (
				app *App
				err error
			)
			require.NotPanics(t, func() {
				app, err = Build(context.Background(), cfg, zap.NewNop())
			})
			require.ErrorContains(t, err, tt.want)
			require.Nil(t, app)
		})
	}
}

func TestRunOnceWithEmptyQueue(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	result, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobs.RunNoJob, result.Status)
}

type ctxRecordingRunner struct {
	ctxErr error
}

func (r *ctxRecordingRunner) RunOnce(ctx context.Context) (jobs.RunResult, error) {
	r.ctxErr = ctx.Err()
	return jobs.RunResult{Status: jobs.RunCompleted, JobID: "job-1"}, nil
}

func TestRunOnceIgnoresCancellation(t *testing.T) {
	t.Parallel()

	stub := &ctxRecordingRunner{}
	app := &App{cfg: testConfig(t), logger: zap.NewNop(), runner: stub}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := app.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, jobs.RunCompleted, result.Status)
	require.NoError(t, stub.ctxErr)
}
