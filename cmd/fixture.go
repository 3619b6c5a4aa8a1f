package cmd

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/core"
)

// Fixture describes a dataset: the schemas of its collections and the rows
// seeded into them.
type Fixture struct {
	Schemas []SchemaFixture          `json:"schemas"`
	Records map[string][]core.Record `json:"records"`
}

// SchemaFixture is the JSON form of a core.Schema.
type SchemaFixture struct {
	Identity   string                      `json:"identity"`
	Table      string                      `json:"table,omitempty"`
	Connection string                      `json:"connection,omitempty"`
	Attributes map[string]AttributeFixture `json:"attributes"`
}

// AttributeFixture is the JSON form of a core.Attribute.
type AttributeFixture struct {
	Column        string `json:"column,omitempty"`
	Type          string `json:"type,omitempty"`
	PrimaryKey    bool   `json:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	Required      bool   `json:"required,omitempty"`
	Default       any    `json:"defaultsTo,omitempty"`
	Model         string `json:"model,omitempty"`
	Collection    string `json:"collection,omitempty"`
	Via           string `json:"via,omitempty"`
	Through       string `json:"through,omitempty"`
	CreatedAt     bool   `json:"autoCreatedAt,omitempty"`
	UpdatedAt     bool   `json:"autoUpdatedAt,omitempty"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading fixture %s", path)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding fixture %s", path)
	}
	return &f, nil
}

// BuildSchemas builds the schemas the fixture declares.
func (f *Fixture) BuildSchemas() []*core.Schema {
	out := make([]*core.Schema, 0, len(f.Schemas))
	for _, sf := range f.Schemas {
		var options []core.SchemaOption
		if sf.Table != "" {
			options = append(options, core.Table(sf.Table))
		}
		if sf.Connection != "" {
			options = append(options, core.Connection(sf.Connection))
		}
		names := make([]string, 0, len(sf.Attributes))
		for name := range sf.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			options = append(options, core.Attr(name, sf.Attributes[name].options()...))
		}
		out = append(out, core.NewSchema(sf.Identity, options...))
	}
	return out
}

func (a AttributeFixture) options() []core.AttributeOption {
	var out []core.AttributeOption
	if a.Column != "" {
		out = append(out, core.Column(a.Column))
	}
	if a.Type != "" {
		out = append(out, core.Type(a.Type))
	}
	if a.PrimaryKey {
		out = append(out, core.PrimaryKey())
	}
	if a.AutoIncrement {
		out = append(out, core.AutoIncrement())
	}
	if a.Unique {
		out = append(out, core.Unique())
	}
	if a.Required {
		out = append(out, core.Required())
	}
	if a.Default != nil {
		out = append(out, core.Default(a.Default))
	}
	if a.CreatedAt {
		out = append(out, core.CreatedAt())
	}
	if a.UpdatedAt {
		out = append(out, core.UpdatedAt())
	}
	switch {
	case a.Model != "":
		out = append(out, core.BelongsTo(a.Model))
	case a.Collection != "":
		out = append(out, core.HasMany(a.Collection, a.Via))
		if a.Through != "" {
			out = append(out, core.Through(a.Through))
		}
	}
	return out
}

// Seed creates the fixture records, collection by collection in name order.
func (f *Fixture) Seed(ctx context.Context, r *core.Registry) error {
	identities := make([]string, 0, len(f.Records))
	for identity := range f.Records {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	for _, identity := range identities {
		c, err := r.Collection(identity)
		if err != nil {
			return err
		}
		if _, err := c.CreateEach(f.Records[identity]).Exec(ctx); err != nil {
			return errors.Wrapf(err, "seeding %s", identity)
		}
	}
	return nil
}
