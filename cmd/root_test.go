package cmd

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ColonelBlimp/crashguard/internal/config"
	"github.com/ColonelBlimp/crashguard/internal/recovery"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViperForTest(t *testing.T) {
	t.Helper()
	viper.Reset()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
}

func testSettings() *config.Settings {
	return &config.Settings{
		ExitCode:      1,
		Traceback:     "all",
		Present:       config.PresentNone,
		NotifyTimeout: time.Second,
		LogFormat:     "text",
	}
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"exit-code", "e"},
		{"present", "p"},
		{"notify-url", ""},
		{"notify-timeout", ""},
		{"traceback", ""},
		{"crash-output", ""},
		{"log-format", ""},
		{"debug", "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			require.NotNil(t, flag, "flag %q not found", tt.name)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	assert.Equal(t, "crashguard", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["trigger"], "trigger subcommand missing")
	assert.True(t, names["config"], "config subcommand missing")
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetViperForTest(t)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "crashguard")
	assert.Contains(t, output, "--exit-code")
	assert.Contains(t, output, "--notify-url")
}

func TestConfigCmd_PrintsEffectiveSettings(t *testing.T) {
	resetViperForTest(t)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"config", "--present", "none", "--exit-code", "42"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	output := out.String()
	assert.Contains(t, output, "exit_code: 42")
	assert.Contains(t, output, "present: none")
	assert.Contains(t, output, "notify_timeout: 5s")
	assert.Contains(t, output, "config.yaml")
	assert.NotNil(t, recovery.Active(), "root command should install the guard")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	s := testSettings()
	s.LogFormat = "json"
	s.Debug = true

	newLogger(s, &buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	s.LogFormat = "text"
	s.Debug = false
	logger := newLogger(s, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNewGuard(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Settings)
		wantErr bool
	}{
		{"no presenter", func(*config.Settings) {}, false},
		{"console", func(s *config.Settings) { s.Present = config.PresentConsole }, false},
		{"notify", func(s *config.Settings) {
			s.Present = config.PresentNotify
			s.NotifyURL = "slack://token@channel"
		}, false},
		{"notify without url", func(s *config.Settings) { s.Present = config.PresentNotify }, true},
		{"crash output", func(s *config.Settings) {
			s.CrashOutput = filepath.Join(t.TempDir(), "crash.log")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.modify(s)
			g, err := newGuard(s, slog.Default(), strings.NewReader(""), &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, recovery.Uninstalled, g.State())
		})
	}
}

func TestNewGuard_HandlesWithSettings(t *testing.T) {
	var out bytes.Buffer
	var code int
	s := testSettings()
	s.ExitCode = 9

	g, err := newGuard(s, slog.Default(), strings.NewReader(""), &out, recovery.WithExit(func(c int) { code = c }))
	require.NoError(t, err)

	g.Handle("Index out of bounds")

	assert.Contains(t, out.String(), "FATAL: Index out of bounds")
	assert.Equal(t, 9, code)
}

func TestNewGuard_ConsoleUsesCommandStreams(t *testing.T) {
	var out bytes.Buffer
	s := testSettings()
	s.Present = config.PresentConsole

	g, err := newGuard(s, slog.Default(), strings.NewReader(""), &out, recovery.WithExit(func(int) {}))
	require.NoError(t, err)

	g.Handle("Index out of bounds")

	assert.Contains(t, out.String(), "FATAL: Index out of bounds")
	assert.Contains(t, out.String(), "unrecoverable error", "console notice should go to the command's stderr")
}

func runTriggerSubprocess(t *testing.T, env string, args ...string) (int, string) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run="+t.Name())
	tmpDir := t.TempDir()
	cmd.Env = append(os.Environ(),
		env+"=1",
		"HOME="+tmpDir,
		"XDG_CONFIG_HOME="+filepath.Join(tmpDir, ".config"),
		"CRASHGUARD_TEST_ARGS="+strings.Join(args, "\x1f"),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stderr.String()
	}
	require.Error(t, err, "expected process to exit with error, but it succeeded")
	return -1, stderr.String()
}

func executeFromEnv() {
	rootCmd.SetArgs(strings.Split(os.Getenv("CRASHGUARD_TEST_ARGS"), "\x1f"))
	defer recovery.Recover()
	Execute()
}

// TestTrigger_MainGoroutine uses a subprocess to run the full path
func TestTrigger_MainGoroutine(t *testing.T) {
	if os.Getenv("TEST_TRIGGER_MAIN") == "1" {
		executeFromEnv()
		return
	}

	code, stderr := runTriggerSubprocess(t, "TEST_TRIGGER_MAIN", "trigger", "--present", "none")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FATAL: Index out of bounds")
	assert.Contains(t, stderr, "Stack trace")
}

func TestTrigger_Goroutine(t *testing.T) {
	if os.Getenv("TEST_TRIGGER_GOROUTINE") == "1" {
		executeFromEnv()
		return
	}

	code, stderr := runTriggerSubprocess(t, "TEST_TRIGGER_GOROUTINE",
		"trigger", "--goroutine", "--present", "none", "--exit-code", "3", "worker", "failed")

	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "FATAL: worker failed")
}
