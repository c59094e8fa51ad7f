// The crashguard command installs a last-resort handler for uncaught panics.
package main

import (
	"github.com/ColonelBlimp/crashguard/cmd"
	"github.com/ColonelBlimp/crashguard/internal/recovery"
)

func main() {
	defer recovery.Recover()
	cmd.Execute()
}
