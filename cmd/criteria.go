package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pmkwilliams/offshore/core"
)

// CriteriaCommand prints the canonical form of a criteria.
type CriteriaCommand struct {
	PrimaryKey string
	Merge      string

	stdin  io.Reader
	stdout io.Writer
}

func newCriteriaCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	cmd := &CriteriaCommand{stdin: stdin, stdout: stdout}
	ccmd := &cobra.Command{
		Use:   "criteria [json]",
		Short: "Normalize and serialize a criteria",
		Long: `
Normalizes a criteria given as JSON (or read from stdin) and prints its
canonical serialization. Equivalent criteria print the same line.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var input string
			if len(args) == 1 {
				input = args[0]
			} else {
				data, err := io.ReadAll(cmd.stdin)
				if err != nil {
					return errors.Wrap(err, "reading criteria")
				}
				input = string(data)
			}
			return cmd.Run(input)
		},
	}
	flags := ccmd.Flags()
	flags.StringVar(&cmd.PrimaryKey, "pk", "id", "primary key scalar criteria refer to")
	flags.StringVar(&cmd.Merge, "merge", "", "criteria to merge into the input, as JSON")
	return ccmd
}

// Run normalizes input and writes its serialization.
func (cmd *CriteriaCommand) Run(input string) error {
	crit, err := cmd.normalize(input)
	if err != nil {
		return err
	}
	if cmd.Merge != "" {
		source, err := cmd.normalize(cmd.Merge)
		if err != nil {
			return errors.Wrap(err, "--merge")
		}
		crit = core.Merge(crit, source)
	}
	if !crit.MatchNone {
		if _, err := core.ParseWhere(crit.Where); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(cmd.stdout, core.Serialize(crit))
	return err
}

func (cmd *CriteriaCommand) normalize(input string) (*core.Criteria, error) {
	var raw any
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &raw); err != nil {
			return nil, errors.Wrap(err, "decoding criteria")
		}
	}
	return core.Normalize(raw, cmd.PrimaryKey)
}
