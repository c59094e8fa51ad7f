// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ColonelBlimp/crashguard/internal/config"
	"github.com/ColonelBlimp/crashguard/internal/present"
	"github.com/ColonelBlimp/crashguard/internal/recovery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "crashguard",
	Short: "Last-resort handler for uncaught panics",
	Long: `crashguard installs a process-wide handler for panics that reach the top of a
goroutine. The handler writes the reason and stack trace, optionally shows a
notice or sends a notification, and then exits with a fixed status.`,
	SilenceUsage:      true,
	PersistentPreRunE: installGuard,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("exit-code", "e", 1, "exit status after an uncaught panic")
	rootCmd.PersistentFlags().StringP("present", "p", config.PresentConsole, "presentation before exit: none, console, notify")
	rootCmd.PersistentFlags().String("notify-url", "", "shoutrrr URL for the notify presenter")
	rootCmd.PersistentFlags().Duration("notify-timeout", present.DefaultNotifyTimeout, "longest wait for the notification service")
	rootCmd.PersistentFlags().String("traceback", "all", "runtime traceback level: none, single, all, system, crash")
	rootCmd.PersistentFlags().String("crash-output", "", "file that also receives runtime fatal errors")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	rootCmd.AddCommand(triggerCmd, configCmd)
}

// bindFlags ties flags to config keys. It runs on every initialization
// since viper.Reset drops earlier bindings.
func bindFlags() {
	viper.BindPFlag("exit_code", rootCmd.PersistentFlags().Lookup("exit-code"))
	viper.BindPFlag("present", rootCmd.PersistentFlags().Lookup("present"))
	viper.BindPFlag("notify_url", rootCmd.PersistentFlags().Lookup("notify-url"))
	viper.BindPFlag("notify_timeout", rootCmd.PersistentFlags().Lookup("notify-timeout"))
	viper.BindPFlag("traceback", rootCmd.PersistentFlags().Lookup("traceback"))
	viper.BindPFlag("crash_output", rootCmd.PersistentFlags().Lookup("crash-output"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

func installGuard(cmd *cobra.Command, _ []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	g, err := newGuard(s, newLogger(s, cmd.ErrOrStderr()), cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	g.Install()
	return nil
}

func newLogger(s *config.Settings, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if s.Debug {
		opts.Level = slog.LevelDebug
	}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newGuard builds an uninstalled guard from settings. The console notice
// shares the command's streams with the diagnostic output.
func newGuard(s *config.Settings, logger *slog.Logger, in io.Reader, out io.Writer, extra ...recovery.Option) (*recovery.Guard, error) {
	opts := []recovery.Option{
		recovery.WithOutput(out),
		recovery.WithLogger(logger),
		recovery.WithExitCode(s.ExitCode),
		recovery.WithTraceback(s.Traceback),
	}

	switch s.Present {
	case config.PresentConsole:
		opts = append(opts, recovery.WithPresenter(present.NewConsole(out, in)))
	case config.PresentNotify:
		n, err := present.NewNotify(s.NotifyURL, s.NotifyTitle, s.NotifyTimeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			recovery.WithPresenter(n),
			recovery.WithHandlingWait(s.NotifyTimeout+time.Second))
	}

	if s.CrashOutput != "" {
		opts = append(opts, recovery.WithCrashOutput(s.CrashOutput))
	}

	return recovery.New(append(opts, extra...)...), nil
}
