// Command turnstile runs a single agent turn against a sandbox directory and
// streams the result to stdout. Flags intentionally stay shape-only: argument
// parsing, config file loading, and shell completions are not this program's job.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/turnstile/turnstile/internal/llmmodel"
	"github.com/turnstile/turnstile/internal/noninteractive"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !noninteractive.IsPrinted(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(args []string, out *os.File) error {
	fs := flag.NewFlagSet("turnstile", flag.ContinueOnError)
	cwd := fs.String("cwd", "", "sandbox directory (default: current directory)")
	model := fs.String("model", string(llmmodel.DefaultModel), "model ID to use")
	approval := fs.String("approval", string(noninteractive.ApprovalModeSuggest), "approval mode: suggest, auto-edit, full-auto, plan")
	yes := fs.Bool("yes", false, "auto-approve every permission request")
	plain := fs.Bool("plain", false, "disable ANSI formatting in output")

	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: turnstile [flags] <prompt>")
	}

	opts := noninteractive.Options{
		CWD:          *cwd,
		ApprovalMode: noninteractive.ApprovalMode(*approval),
		ModelID:      llmmodel.ModelID(*model),
		AutoYes:      *yes,
		NoFormatting: *plain,
		Out:          out,
	}

	return noninteractive.Exec(prompt, opts)
}
