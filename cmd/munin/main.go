// Command munin simulates infrastructure cascades and drives the quorum
// authorization workflow for the response packets they produce.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// exitError carries a non-default exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = verification failed
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			_, _ = fmt.Fprintln(stderr, color.RedString(ee.msg))
			return ee.code
		}
		_, _ = fmt.Fprintf(stderr, "%s %v\n", color.RedString("Error:"), err)
		return 2
	}
	return 0
}
