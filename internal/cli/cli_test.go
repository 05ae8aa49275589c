package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/app"
	"github.com/JakeFAU/price-archive/internal/config"
)

func stageEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	logFile := filepath.Join(dir, "scraper.log")
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("PRICETRACK_SHEET_CREDENTIALS_FILE", filepath.Join(dir, "sa.json"))
	t.Setenv("PRICETRACK_STORAGE_BACKEND", config.BackendMemory)
	t.Setenv("PRICETRACK_LOGGING_FILE", logFile)
	return logFile
}

func stubApp(t *testing.T, err error) {
	t.Helper()
	prev := newApp
	t.Cleanup(func() { newApp = prev })
	newApp = func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
		return nil, err
	}
}

func TestStageCommandRejectsArgs(t *testing.T) {
	cmd := NewStageCommand(config.StageScraper, "scrape", func(context.Context, *app.App) error {
		t.Fatal("run must not be called")
		return nil
	})
	cmd.SetArgs([]string{"extra"})
	require.Error(t, cmd.Execute())
}

func TestStageCommandConfigError(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	cmd := NewStageCommand(config.StageScraper, "scrape", nil)
	cmd.SetArgs([]string{})
	require.ErrorContains(t, cmd.Execute(), "load config")
}

func TestStageCommandInitErrorIsLogged(t *testing.T) {
	logFile := stageEnv(t)
	stubApp(t, errors.New("bucket unreachable"))

	cmd := NewStageCommand(config.StageScraper, "scrape", nil)
	cmd.SetArgs([]string{})
	require.ErrorContains(t, cmd.Execute(), "bucket unreachable")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "failed to initialize application services")
}

func TestExecuteReturnsExitCode(t *testing.T) {
	stageEnv(t)
	stubApp(t, errors.New("boom"))

	cmd := NewStageCommand(config.StageProcessor, "process", nil)
	cmd.SetArgs([]string{})
	require.Equal(t, 1, Execute(cmd))
}
