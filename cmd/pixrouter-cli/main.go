package main

import (
	"errors"
	"fmt"
	"os"

	"pixrouter/selector"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(exitUsage)
	}

	var err error
	switch args[0] {
	case "validate":
		err = runValidate(args[1:])
	case "export":
		err = runExport(args[1:])
	case "simulate":
		err = runSimulate(args[1:])
	case "activate":
		err = runActivate(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(exitUsage)
	}

	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
			os.Exit(exitUsage)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}

// usageError marks operator mistakes (bad flags, missing arguments) so
// they exit 2 instead of 1.
type usageError string

func (e usageError) Error() string { return string(e) }

func printUsage() {
	fmt.Println(`Usage: pixrouter-cli <command> [options]

Commands:
  validate <ruleset.json>          Compile a ruleset document and report every error.
  export   <ruleset.json>          Print the canonical form of a compiled document.
  simulate [options]               Replay a batch file against a ruleset document.
  activate [options]               Activate a stored ruleset version via the daemon.

Run 'pixrouter-cli <command> -h' for command options.`)
}

// runValidate compiles a document and prints the collected errors one per
// line, path first, the way the admin validate endpoint reports them.
func runValidate(args []string) error {
	if len(args) != 1 {
		return usageError("usage: pixrouter-cli validate <ruleset.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read ruleset: %w", err)
	}
	snap, err := selector.CompileJSON(data)
	if err != nil {
		var cerrs *selector.CompileErrors
		if errors.As(err, &cerrs) {
			fmt.Fprintf(os.Stderr, "invalid: %d error(s)\n", len(cerrs.Errors))
			for _, ce := range cerrs.Errors {
				fmt.Fprintf(os.Stderr, "  %s: %s (%s)\n", ce.Path, ce.Message, ce.Code)
			}
			return fmt.Errorf("ruleset failed to compile")
		}
		return err
	}
	fmt.Printf("valid: ruleset %d version %d, %d rule(s), gateways %v\n",
		snap.ID, snap.Version, snap.RuleCount(), snap.KnownGateways())
	return nil
}

// runExport compiles a document and prints the canonical re-export, the
// form Compile(Export(snapshot)) accepts back unchanged.
func runExport(args []string) error {
	if len(args) != 1 {
		return usageError("usage: pixrouter-cli export <ruleset.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read ruleset: %w", err)
	}
	snap, err := selector.CompileJSON(data)
	if err != nil {
		return fmt.Errorf("compile ruleset: %w", err)
	}
	out, err := snap.Export().JSON()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
