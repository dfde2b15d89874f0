// Package cli implements the nobletrack command-line interface. The
// serve subcommand runs the daemon; every other subcommand is a thin
// HTTP client of a running daemon's message surface.
package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve     *ServeCommand
	Status    *StatusCommand
	Start     *StartCommand
	Stop      *StopCommand
	Flush     *FlushCommand
	Dashboard *DashboardCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "nobletrack"
	parser.LongDescription = "Session and activity tracking daemon with a spreadsheet-backed remote store."

	cmds := &commands{
		Serve:     &ServeCommand{globals: &globals, version: version},
		Status:    &StatusCommand{globals: &globals, version: version},
		Start:     &StartCommand{globals: &globals, version: version},
		Stop:      &StopCommand{globals: &globals, version: version},
		Flush:     &FlushCommand{globals: &globals, version: version},
		Dashboard: &DashboardCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Run the tracking daemon", "Run the background tracking core as a local HTTP daemon.", cmds.Serve)
	parser.AddCommand("status", "Show daemon state", "Show the running daemon's active session, pending buffer, and configuration summary.", cmds.Status)
	parser.AddCommand("start", "Start a tracking session", "Start a tracking session for a configured user.", cmds.Start)
	parser.AddCommand("stop", "Stop the active session", "Stop the active tracking session, optionally attaching notes.", cmds.Stop)
	parser.AddCommand("flush", "Flush buffered activity now", "Deliver the pending activity buffer to the remote store immediately.", cmds.Flush)
	parser.AddCommand("dashboard", "Fetch the remote dashboard", "Fetch the remote dashboard aggregate for a user.", cmds.Dashboard)

	return parser, &globals, cmds
}

// Run is the main entry point for the nobletrack CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("nobletrack %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
