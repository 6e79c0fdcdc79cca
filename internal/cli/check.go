package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/wire"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Headers []string
	Body    string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check METHOD PATH",
		Short: "Show whether one request would run through the client abstraction",
		Long: `Evaluate the adaptability rules for a single request and print the decision,
the rule that produced it and the headers that would be forwarded.

Examples:
  parity check GET /records/posts/1
  parity check POST /records/posts -H 'Content-Type: application/json' --body '[{"a":1}]'
  parity check PUT /records/posts/1,2 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "request body")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *CheckOptions, method, path string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(opts.Headers))
	for _, h := range opts.Headers {
		if !strings.Contains(h, ":") {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid header %q: want 'Name: value'", h))
		}
		lines = append(lines, h)
	}
	headers := wire.ParseHeaders(lines)

	o := oracle.New(oracle.Env{CookieTransport: cfg.CookieTransport})
	d := o.CanAdapt(strings.ToUpper(method), path, headers, opts.Body)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	verdict := "raw"
	if d.Adaptable {
		verdict = "adapter"
	}
	fmt.Fprintf(out, "%s %s -> %s (rule %s)\n", strings.ToUpper(method), path, verdict, d.Rule)
	if d.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", d.Reason)
	}
	for _, name := range sortedKeys(d.ForwardedHeaders) {
		fmt.Fprintf(out, "forward: %s: %s\n", name, d.ForwardedHeaders[name])
	}
	return nil
}
