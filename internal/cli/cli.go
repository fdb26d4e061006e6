package cli

import (
	"errors"
	"fmt"
	"io"
)

// Command defines a single subcommand.
type Command struct {
	Name    string
	Summary string
	Run     func(args []string, stdout, stderr io.Writer) error
}

// ExitCodeError asks Dispatch to exit with a specific code without printing
// an error message.
type ExitCodeError int

func (e ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

// Dispatch runs the command named by args[0] and returns a process exit code.
func Dispatch(prog string, cmds []Command, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		writef(stderr, "%s: no command specified\n", prog)
		Usage(stderr, prog, cmds)
		return ExitError
	}

	name := args[0]
	for _, cmd := range cmds {
		if cmd.Name != name {
			continue
		}
		err := cmd.Run(args[1:], stdout, stderr)
		var code ExitCodeError
		switch {
		case err == nil:
			return ExitOK
		case errors.As(err, &code):
			return int(code)
		default:
			writef(stderr, "%s %s: %v\n", prog, name, err)
			return ExitError
		}
	}

	writef(stderr, "%s: unknown command %q\n", prog, name)
	Usage(stderr, prog, cmds)
	return ExitError
}

// Usage lists the available commands.
func Usage(w io.Writer, prog string, cmds []Command) {
	writef(w, "usage: %s [flags] <command> [args]\n\ncommands:\n", prog)
	for _, cmd := range cmds {
		writef(w, "  %-10s %s\n", cmd.Name, cmd.Summary)
	}
}

func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
