package main

import (
	"fmt"
	"os"

	"github.com/tonimelisma/localsync/internal/errs"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "localsync:", err)
	os.Exit(errs.ExitCode(err))
}
