package cmd

import (
	"strings"

	"github.com/ColonelBlimp/crashguard/internal/recovery"
	"github.com/spf13/cobra"
)

const defaultTriggerReason = "Index out of bounds"

var triggerCmd = &cobra.Command{
	Use:   "trigger [reason...]",
	Short: "Raise an uncaught panic to exercise the installed handler",
	RunE:  runTrigger,
}

func init() {
	triggerCmd.Flags().BoolP("goroutine", "g", false, "panic inside a guarded goroutine instead of the main one")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	reason := strings.Join(args, " ")
	if reason == "" {
		reason = defaultTriggerReason
	}

	inGoroutine, err := cmd.Flags().GetBool("goroutine")
	if err != nil {
		return err
	}
	if !inGoroutine {
		panic(reason)
	}

	recovery.Go(func() {
		panic(reason)
	})
	// The handler exits the process.
	select {}
}
