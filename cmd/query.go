package cmd

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pmkwilliams/offshore/core"
	"github.com/pmkwilliams/offshore/driver/memory"
)

// QueryCommand runs one read against a seeded in-memory registry.
type QueryCommand struct {
	Fixture     string
	Where       string
	Sort        string
	Select      []string
	Populate    []string
	Limit       int
	Skip        int
	Count       bool
	Cache       bool
	NativeJoins bool

	settings *settings
	stdout   io.Writer
}

func newQueryCommand(s *settings, stdout io.Writer) *cobra.Command {
	cmd := &QueryCommand{settings: s, stdout: stdout}
	ccmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Find records of a collection",
		Long: `
Seeds the collections of a fixture file into the in-memory adapter and prints
the records of <collection> matching the criteria as JSON.

Populations may carry their own criteria: --populate 'drivers={"limit":1}'.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c.Context(), args[0])
		},
	}

	flags := ccmd.Flags()
	flags.StringVarP(&cmd.Fixture, "fixture", "f", "", "fixture file holding schemas and records")
	flags.StringVarP(&cmd.Where, "where", "w", "", "criteria as JSON")
	flags.StringVarP(&cmd.Sort, "sort", "s", "", `sort clause, e.g. "name desc"`)
	flags.StringSliceVar(&cmd.Select, "select", nil, "attributes to return")
	flags.StringArrayVarP(&cmd.Populate, "populate", "p", nil, "association path to populate, optionally followed by =<criteria JSON>")
	flags.IntVar(&cmd.Limit, "limit", 0, "maximum number of records")
	flags.IntVar(&cmd.Skip, "skip", 0, "number of records to skip")
	flags.BoolVar(&cmd.Count, "count", false, "print the number of matching records instead")
	flags.BoolVar(&cmd.Cache, "cache", false, "serve the result through the result cache")
	flags.BoolVar(&cmd.NativeJoins, "native-joins", false, "let the adapter execute joins itself")
	_ = ccmd.MarkFlagRequired("fixture")
	return ccmd
}

// Run executes the query against collection.
func (cmd *QueryCommand) Run(ctx context.Context, collection string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := cmd.registry(ctx)
	if err != nil {
		return err
	}
	c, err := r.Collection(collection)
	if err != nil {
		return err
	}
	var where any
	if cmd.Where != "" {
		if err := json.Unmarshal([]byte(cmd.Where), &where); err != nil {
			return errors.Wrap(err, "decoding --where")
		}
	}

	if cmd.Count {
		n, err := c.Count(where).Exec(ctx)
		if err != nil {
			return err
		}
		return cmd.print(n)
	}

	d := c.Find(where)
	if cmd.Sort != "" {
		d = d.Sort(cmd.Sort)
	}
	if len(cmd.Select) > 0 {
		d = d.Select(cmd.Select...)
	}
	if cmd.Skip > 0 {
		d = d.Skip(cmd.Skip)
	}
	if cmd.Limit > 0 {
		d = d.Limit(cmd.Limit)
	}
	for _, p := range cmd.Populate {
		path, sub, err := parsePopulate(p)
		if err != nil {
			return err
		}
		d = d.Populate(path, sub)
	}
	if cmd.Cache {
		d = d.Cache()
	}
	cmd.settings.log.Debug("running query", "collection", collection, "criteria", d.String())

	rows, err := d.Exec(ctx)
	if err != nil {
		return err
	}
	return cmd.print(rows)
}

func (cmd *QueryCommand) registry(ctx context.Context) (*core.Registry, error) {
	fixture, err := LoadFixture(cmd.Fixture)
	if err != nil {
		return nil, err
	}
	var adapter core.Adapter = memory.New()
	if cmd.NativeJoins {
		adapter = memory.NewJoiner()
	}
	r := core.New(
		core.WithConfig(cmd.settings.config),
		core.WithLogger(cmd.settings.log),
		core.WithConnection("default", adapter),
	)
	r.Register(fixture.BuildSchemas()...)
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := fixture.Seed(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (cmd *QueryCommand) print(v any) error {
	enc := json.NewEncoder(cmd.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePopulate splits "path=criteria" into the path and its decoded criteria.
func parsePopulate(arg string) (string, any, error) {
	path, raw, found := strings.Cut(arg, "=")
	if !found {
		return path, nil, nil
	}
	var sub any
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return "", nil, errors.Wrapf(err, "decoding criteria of %s", path)
	}
	return path, sub, nil
}
