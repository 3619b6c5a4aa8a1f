// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the schema system, which describes collections, their
// attributes and associations, and resolves associations into the column
// references the population engine needs.
package core

import (
	"fmt"
	"sort"
	"strings"
)

// Attribute describes one attribute of a collection.
//
// Scalar attributes map to a column. Associations are declared with
// BelongsTo (a foreign key column referencing another collection) or HasMany
// (no column; the inverse side lives on the other collection or on a
// junction table).
type Attribute struct {
	Name          string // Name of the attribute in attribute space
	ColumnName    string // Name of the column in the database
	Type          string // Declared type (string, integer, json, ...)
	PrimaryKey    bool
	AutoIncrement bool
	Required      bool
	Unique        bool
	DefaultValue  any

	// Special timestamp markers
	IsCreatedAt bool
	IsUpdatedAt bool

	// Association declaration
	Model      string // belongs-to target identity
	Collection string // has-many target identity
	Via        string // inverse attribute on the target (or on the through table)
	Through    string // through table identity for many-to-many

	// Resolved by the registry: the collection the attribute points at and
	// the column on that collection holding the key.
	References string
	On         string

	rawCriteria     any
	defaultCriteria *Criteria
}

// column returns the column name of the attribute.
func (a *Attribute) column() string {
	if a.ColumnName != "" {
		return a.ColumnName
	}
	return a.Name
}

// IsAssociation reports whether the attribute is a belongs-to or has-many.
func (a *Attribute) IsAssociation() bool {
	return a.Model != "" || a.Collection != ""
}

// target returns the identity of the collection the association resolves
// to for population (never the junction or through table).
func (a *Attribute) target() string {
	if a.Model != "" {
		return a.Model
	}
	return a.Collection
}

// AttributeOption is a function used to configure an Attribute.
type AttributeOption func(*Attribute)

// Column sets the database column name of the attribute.
func Column(name string) AttributeOption {
	return func(a *Attribute) { a.ColumnName = name }
}

// Type sets the declared type of the attribute.
func Type(t string) AttributeOption {
	return func(a *Attribute) { a.Type = t }
}

// PrimaryKey marks the attribute as a primary key.
func PrimaryKey() AttributeOption {
	return func(a *Attribute) { a.PrimaryKey = true }
}

// AutoIncrement marks the attribute as generated by the adapter.
func AutoIncrement() AttributeOption {
	return func(a *Attribute) { a.AutoIncrement = true }
}

// Unique marks the attribute as unique.
func Unique() AttributeOption {
	return func(a *Attribute) { a.Unique = true }
}

// Required marks the attribute as required on create.
func Required() AttributeOption {
	return func(a *Attribute) { a.Required = true }
}

// Default sets the value used on create when the attribute is absent.
func Default(value any) AttributeOption {
	return func(a *Attribute) { a.DefaultValue = value }
}

// CreatedAt marks the attribute as the creation timestamp.
func CreatedAt() AttributeOption {
	return func(a *Attribute) { a.IsCreatedAt = true }
}

// UpdatedAt marks the attribute as the last-update timestamp.
func UpdatedAt() AttributeOption {
	return func(a *Attribute) { a.IsUpdatedAt = true }
}

// BelongsTo declares a to-one association holding the key of identity.
func BelongsTo(identity string) AttributeOption {
	return func(a *Attribute) { a.Model = strings.ToLower(identity) }
}

// HasMany declares a to-many association on identity, whose inverse is the
// via attribute. When via is itself a to-many association the pair is
// many-to-many and a junction table is synthesized.
func HasMany(identity, via string) AttributeOption {
	return func(a *Attribute) {
		a.Collection = strings.ToLower(identity)
		a.Via = via
	}
}

// Through routes a many-to-many association over an explicit through
// collection. The via attribute then lives on the through collection.
func Through(identity string) AttributeOption {
	return func(a *Attribute) { a.Through = strings.ToLower(identity) }
}

// WithCriteria attaches default criteria to an association, merged into
// every populate of it.
//
// Example:
//
//	core.Attr("activeDrivers", core.HasMany("driver", "company"),
//	    core.WithCriteria(map[string]any{"active": true}))
func WithCriteria(raw any) AttributeOption {
	return func(a *Attribute) { a.rawCriteria = raw }
}

// Schema describes a collection: its identity, storage location,
// attributes, hooks and validator.
type Schema struct {
	Identity      string
	TableName     string
	Connection    string
	PrimaryKey    string // attribute name of the primary key
	Attributes    map[string]*Attribute
	JunctionTable bool

	// ThroughTable indexes, for a through collection, "parent.alias" to the
	// attribute of this collection that points at the associated side.
	ThroughTable map[string]string

	attributeOrder []string
	byColumn       map[string]*Attribute
	hookList       map[Hook][]HookFunc
	validator      Validator
	createdAtAttr  *Attribute
	updatedAtAttr  *Attribute
}

// SchemaOption represents a function that customizes a schema.
type SchemaOption func(*Schema)

// Table sets the table/collection name the adapter stores the schema in.
func Table(name string) SchemaOption {
	return func(s *Schema) { s.TableName = name }
}

// Connection binds the schema to a registered connection.
func Connection(name string) SchemaOption {
	return func(s *Schema) { s.Connection = name }
}

// Attr declares an attribute. Declaration order is preserved for column
// listings.
func Attr(name string, options ...AttributeOption) SchemaOption {
	return func(s *Schema) {
		attr := &Attribute{Name: name}
		for _, option := range options {
			option(attr)
		}
		s.addAttribute(attr)
	}
}

// WithValidator sets the validator consulted on create and update.
func WithValidator(v Validator) SchemaOption {
	return func(s *Schema) { s.validator = v }
}

// WithHook registers a lifecycle hook.
func WithHook(hook Hook, fn HookFunc) SchemaOption {
	return func(s *Schema) { s.RegisterHook(hook, fn) }
}

// NewSchema builds a schema from the given options. Identities are
// case-insensitive and stored lowercased.
//
// Example:
//
//	company := core.NewSchema("company",
//	    core.Connection("default"),
//	    core.Attr("id", core.PrimaryKey(), core.Type("integer")),
//	    core.Attr("name", core.Type("string")),
//	    core.Attr("drivers", core.HasMany("driver", "company")),
//	)
func NewSchema(identity string, options ...SchemaOption) *Schema {
	s := &Schema{
		Identity:     strings.ToLower(identity),
		Attributes:   make(map[string]*Attribute),
		ThroughTable: make(map[string]string),
		hookList:     make(map[Hook][]HookFunc),
	}
	for _, option := range options {
		option(s)
	}
	if s.TableName == "" {
		s.TableName = s.Identity
	}
	return s
}

func (s *Schema) addAttribute(attr *Attribute) {
	if _, exists := s.Attributes[attr.Name]; !exists {
		s.attributeOrder = append(s.attributeOrder, attr.Name)
	}
	s.Attributes[attr.Name] = attr
}

// Attribute returns the attribute with the given name, or nil.
func (s *Schema) Attribute(name string) *Attribute {
	return s.Attributes[name]
}

// AttributeNames returns attribute names in declaration order.
func (s *Schema) AttributeNames() []string {
	return cloneSlice(s.attributeOrder)
}

// Columns returns the column names of every attribute stored on this
// collection, in declaration order. To-many associations have no column.
func (s *Schema) Columns() []string {
	var out []string
	for _, name := range s.attributeOrder {
		attr := s.Attributes[name]
		if attr.Collection != "" {
			continue
		}
		out = append(out, attr.column())
	}
	return out
}

// primaryKeyColumn returns the column of the primary key.
func (s *Schema) primaryKeyColumn() string {
	if attr := s.Attributes[s.PrimaryKey]; attr != nil {
		return attr.column()
	}
	return s.PrimaryKey
}

func (s *Schema) descriptor() CollectionDescriptor {
	pk := s.Attributes[s.PrimaryKey]
	return CollectionDescriptor{
		Identity:      s.Identity,
		TableName:     s.TableName,
		PrimaryKey:    pk.column(),
		AutoIncrement: pk.AutoIncrement,
		Columns:       s.Columns(),
	}
}

// prepare fills the primary key default and column indexes.
func (s *Schema) prepare() error {
	for _, name := range s.attributeOrder {
		attr := s.Attributes[name]
		if attr.PrimaryKey {
			if s.PrimaryKey != "" && s.PrimaryKey != name {
				return &ConfigurationError{Msg: fmt.Sprintf("%s declares more than one primary key", s.Identity)}
			}
			s.PrimaryKey = name
		}
		if attr.IsCreatedAt {
			s.createdAtAttr = attr
		}
		if attr.IsUpdatedAt {
			s.updatedAtAttr = attr
		}
	}
	if s.PrimaryKey == "" {
		if existing := s.Attributes["id"]; existing != nil {
			existing.PrimaryKey = true
		} else {
			s.attributeOrder = append([]string{"id"}, s.attributeOrder...)
			s.Attributes["id"] = &Attribute{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true}
		}
		s.PrimaryKey = "id"
	}
	s.byColumn = make(map[string]*Attribute, len(s.Attributes))
	for _, attr := range s.Attributes {
		if attr.Collection == "" {
			s.byColumn[attr.column()] = attr
		}
	}
	return nil
}

// resolveSchemas resolves every association of every schema and
// synthesizes junction schemas for many-to-many pairs declared without a
// through collection. Synthesized junctions are added to schemas.
func resolveSchemas(schemas map[string]*Schema) error {
	for _, identity := range sortedKeys(schemas) {
		if err := schemas[identity].prepare(); err != nil {
			return err
		}
	}

	for _, identity := range sortedKeys(schemas) {
		s := schemas[identity]
		if s.JunctionTable {
			continue
		}
		for _, name := range s.attributeOrder {
			attr := s.Attributes[name]
			var err error
			switch {
			case attr.Model != "":
				err = resolveBelongsTo(schemas, s, attr)
			case attr.Collection != "" && attr.Through != "":
				err = resolveThrough(schemas, s, attr)
			case attr.Collection != "":
				err = resolveHasMany(schemas, s, attr)
			}
			if err != nil {
				return err
			}
		}
	}

	for _, identity := range sortedKeys(schemas) {
		s := schemas[identity]
		for _, name := range s.attributeOrder {
			attr := s.Attributes[name]
			if attr.rawCriteria == nil || !attr.IsAssociation() {
				continue
			}
			target := schemas[attr.target()]
			crit, err := Normalize(attr.rawCriteria, target.PrimaryKey)
			if err != nil {
				return &ConfigurationError{Msg: fmt.Sprintf("%s.%s: invalid default criteria: %v", s.Identity, name, err)}
			}
			attr.defaultCriteria = crit
		}
	}
	return nil
}

func lookupTarget(schemas map[string]*Schema, s *Schema, attr *Attribute, identity string) (*Schema, error) {
	target, ok := schemas[identity]
	if !ok {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("%s.%s references unknown collection %q", s.Identity, attr.Name, identity)}
	}
	return target, nil
}

func resolveBelongsTo(schemas map[string]*Schema, s *Schema, attr *Attribute) error {
	target, err := lookupTarget(schemas, s, attr, attr.Model)
	if err != nil {
		return err
	}
	attr.References = target.Identity
	attr.On = target.primaryKeyColumn()
	return nil
}

func resolveHasMany(schemas map[string]*Schema, s *Schema, attr *Attribute) error {
	target, err := lookupTarget(schemas, s, attr, attr.Collection)
	if err != nil {
		return err
	}
	via := target.Attributes[attr.Via]
	if via == nil {
		return &ConfigurationError{Msg: fmt.Sprintf("%s.%s: via attribute %q not found on %s", s.Identity, attr.Name, attr.Via, target.Identity)}
	}
	switch {
	case via.Model == s.Identity:
		attr.References = target.Identity
		attr.On = via.column()
		return nil
	case via.Collection == s.Identity:
		junction, err := junctionFor(schemas, s, attr, target, via)
		if err != nil {
			return err
		}
		attr.References = junction.Identity
		attr.On = junction.Attributes[s.Identity+"_"+attr.Name].column()
		return nil
	}
	return &ConfigurationError{Msg: fmt.Sprintf("%s.%s: via attribute %s.%s does not point back", s.Identity, attr.Name, target.Identity, attr.Via)}
}

// junctionFor returns the junction schema of a many-to-many pair, creating
// it on first use. Sides are ordered so both ends resolve the same table.
func junctionFor(schemas map[string]*Schema, s *Schema, attr *Attribute, target *Schema, via *Attribute) (*Schema, error) {
	type side struct {
		schema *Schema
		attr   string
	}
	sides := []side{{s, attr.Name}, {target, via.Name}}
	sort.Slice(sides, func(i, j int) bool {
		a, b := sides[i], sides[j]
		if a.schema.Identity != b.schema.Identity {
			return a.schema.Identity < b.schema.Identity
		}
		return a.attr < b.attr
	})
	identity := fmt.Sprintf("%s_%s__%s_%s", sides[0].schema.Identity, sides[0].attr, sides[1].schema.Identity, sides[1].attr)
	if existing, ok := schemas[identity]; ok {
		return existing, nil
	}

	options := []SchemaOption{
		Connection(s.Connection),
		Attr("id", PrimaryKey(), AutoIncrement(), Type("integer")),
	}
	for _, sd := range sides {
		options = append(options, Attr(sd.schema.Identity+"_"+sd.attr, Type("integer"), BelongsTo(sd.schema.Identity)))
	}
	junction := NewSchema(identity, options...)
	junction.JunctionTable = true
	if err := junction.prepare(); err != nil {
		return nil, err
	}
	for _, sd := range sides {
		ref := junction.Attributes[sd.schema.Identity+"_"+sd.attr]
		ref.References = sd.schema.Identity
		ref.On = sd.schema.primaryKeyColumn()
	}
	schemas[identity] = junction
	return junction, nil
}

func resolveThrough(schemas map[string]*Schema, s *Schema, attr *Attribute) error {
	if _, err := lookupTarget(schemas, s, attr, attr.Collection); err != nil {
		return err
	}
	through, err := lookupTarget(schemas, s, attr, attr.Through)
	if err != nil {
		return err
	}
	via := through.Attributes[attr.Via]
	if via == nil || via.Model != s.Identity {
		return &ConfigurationError{Msg: fmt.Sprintf("%s.%s: through collection %s has no %q pointing back", s.Identity, attr.Name, through.Identity, attr.Via)}
	}
	attr.References = through.Identity
	attr.On = via.column()

	for _, name := range through.attributeOrder {
		candidate := through.Attributes[name]
		if candidate.Model == attr.Collection && name != attr.Via {
			through.ThroughTable[s.Identity+"."+attr.Name] = name
			return nil
		}
	}
	return &ConfigurationError{Msg: fmt.Sprintf("%s.%s: through collection %s has no attribute pointing at %s", s.Identity, attr.Name, through.Identity, attr.Collection)}
}
