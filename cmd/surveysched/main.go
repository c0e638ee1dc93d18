// Command surveysched runs the survey activation daemon and its operator
// commands.
package main

import (
	"errors"
	"fmt"
	"os"

	_ "time/tzdata"

	"surveysched/internal/activation"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps domain errors to distinct codes for scripts.
func exitCode(err error) int {
	switch {
	case errors.Is(err, activation.ErrValidation):
		return 2
	case errors.Is(err, activation.ErrNotFound):
		return 3
	default:
		return 1
	}
}
