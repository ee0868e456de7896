package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/resultexport/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands report their own failures; anything else came from cobra.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
