// Package contract describes RPC service contracts: their methods, parameter
// metadata, roles, fault mappings and the envelope each method sends on the wire.
package contract

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/morezero/rpcmesh/pkg/semver"
)

// Info is the immutable metadata of one contract, built once.
type Info struct {
	name          string
	version       string
	methods       []*Method
	tags          []string
	apiKeyDefines []APIKeyDefine
}

func (c *Info) Name() string    { return c.name }
func (c *Info) Version() string { return c.version }

// Methods returns every method, own methods first, then inherited ones.
func (c *Info) Methods() []*Method {
	return slices.Clone(c.methods)
}

// Method returns the first method with the given full name.
func (c *Info) Method(fullName string) (*Method, bool) {
	for _, m := range c.methods {
		if m.FullName == fullName {
			return m, true
		}
	}
	return nil, false
}

// MethodByName returns the first method with the given short name.
func (c *Info) MethodByName(name string) (*Method, bool) {
	for _, m := range c.methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Tags returns the de-duplicated tags of all methods in declaration order.
func (c *Info) Tags() []string {
	return slices.Clone(c.tags)
}

func (c *Info) APIKeyDefines() []APIKeyDefine {
	return slices.Clone(c.apiKeyDefines)
}

// GetMethods returns the methods a caller holding any of roles may call.
func (c *Info) GetMethods(roles []string) []*Method {
	var out []*Method
	for _, m := range c.methods {
		if m.InRoles(roles) {
			out = append(out, m)
		}
	}
	return out
}

type methodDecl struct {
	owner string
	name  string
	decl  *decl
}

// Builder declares a contract. Call Build once all methods are declared.
type Builder struct {
	name    string
	decl    *decl
	methods []methodDecl
	parents []*Builder

	once  sync.Once
	built *Info
	err   error
}

// Define starts a contract declaration. name is the dotted contract name,
// e.g. "DataContract.IService".
func Define(name string, opts ...Option) *Builder {
	d := &decl{scope: scopeContract}
	for _, opt := range opts {
		opt(d)
	}
	return &Builder{name: name, decl: d}
}

// Extends adds parent contracts whose methods this contract also exposes.
func (b *Builder) Extends(parents ...*Builder) *Builder {
	b.parents = append(b.parents, parents...)
	return b
}

// Method declares one method.
func (b *Builder) Method(name string, opts ...Option) *Builder {
	d := &decl{scope: scopeMethod}
	for _, opt := range opts {
		opt(d)
	}
	b.methods = append(b.methods, methodDecl{owner: b.name, name: name, decl: d})
	return b
}

// Build validates the declarations and produces the contract metadata. The
// result is computed once and cached for the builder's lifetime.
func (b *Builder) Build() (*Info, error) {
	b.once.Do(func() {
		b.built, b.err = b.build()
	})
	return b.built, b.err
}

// MustBuild is Build for package-level contract declarations.
func (b *Builder) MustBuild() *Info {
	info, err := b.Build()
	if err != nil {
		panic(err)
	}
	return info
}

func (b *Builder) build() (*Info, error) {
	if !semver.ValidateContractName(b.name) {
		return nil, fmt.Errorf("%w: invalid contract name %q", ErrConfig, b.name)
	}
	cd := b.decl
	if len(cd.misplaced) > 0 {
		return nil, fmt.Errorf("%w: %s: options %v are not allowed on a contract", ErrConfig, b.name, cd.misplaced)
	}
	if len(cd.tags) > 1 {
		return nil, fmt.Errorf("%w: %s: more than one tag declared on the contract", ErrConfig, b.name)
	}
	if err := semver.ValidateVersion(cd.version); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, b.name, err)
	}

	tag := b.name[strings.LastIndex(b.name, ".")+1:]
	if len(cd.tags) == 1 {
		tag = cd.tags[0]
	}

	defines := slices.Clone(cd.faultDefines)
	var groupDefines []Fault
	for _, g := range cd.groups {
		groupDefines = append(groupDefines, g.Defines...)
	}
	defines = append(defines, groupDefines...)
	contractFaults := slices.Clone(cd.faults)
	if cd.inheritFaults {
		contractFaults = append(contractFaults, groupDefines...)
	}

	contractRoles := slices.Clone(cd.roles)
	restricted := len(contractRoles) > 0
	declared := false
	for _, e := range contractRoles {
		r, _ := ParseRoles(e)
		if slices.Contains(r, DefaultRole) {
			declared = true
		}
	}
	if !declared {
		contractRoles = append(contractRoles, DefaultRole)
	}

	all := b.collect(nil)
	for _, md := range all {
		if len(md.decl.roles) > 0 {
			restricted = true
		}
	}

	info := &Info{name: b.name, version: cd.version, apiKeyDefines: slices.Clone(cd.apiKeyDefines)}
	seenTags := make(map[string]bool)
	for _, md := range all {
		m, err := b.buildMethod(md, tag, contractFaults, defines, contractRoles, restricted)
		if err != nil {
			return nil, err
		}
		info.methods = append(info.methods, m)
		for _, t := range m.Tags {
			if !seenTags[t] {
				seenTags[t] = true
				info.tags = append(info.tags, t)
			}
		}
	}
	return info, nil
}

// collect returns own methods followed by every parent's methods, depth first.
func (b *Builder) collect(visiting []*Builder) []methodDecl {
	if slices.Contains(visiting, b) {
		return nil
	}
	visiting = append(visiting, b)
	out := slices.Clone(b.methods)
	for _, p := range b.parents {
		out = append(out, p.collect(visiting)...)
	}
	return out
}

func (b *Builder) buildMethod(md methodDecl, tag string, contractFaults, defines []Fault, contractRoles []string, restricted bool) (*Method, error) {
	d, cd := md.decl, b.decl
	full := md.owner + "." + md.name
	if md.name == "" {
		return nil, fmt.Errorf("%w: %s: empty method name", ErrConfig, b.name)
	}
	if len(d.misplaced) > 0 {
		return nil, fmt.Errorf("%w: %s: options %v are not allowed on a method", ErrConfig, full, d.misplaced)
	}

	kinds := make(map[Kind]bool)
	for _, p := range d.params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: %s: parameter without a name", ErrConfig, full)
		}
		if p.Kind.System() {
			if kinds[p.Kind] {
				return nil, fmt.Errorf("%w: %s: more than one %s parameter", ErrConfig, full, p.Kind)
			}
			kinds[p.Kind] = true
		}
	}
	shape, err := newShape(d.params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", full, err)
	}

	m := &Method{
		Name:                 md.name,
		FullName:             full,
		Contract:             b.name,
		Params:               slices.Clone(d.params),
		Returns:              d.returns,
		Generic:              d.generic,
		Tags:                 append([]string{tag}, d.tags...),
		Faults:               mergeFaults(append(slices.Clone(d.faults), contractFaults...), defines),
		Headers:              append(slices.Clone(cd.headers), d.headers...),
		APIKeys:              mergeAPIKeys(append(slices.Clone(d.apiKeys), cd.apiKeys...), cd.apiKeyDefines),
		IgnoreNATS:           cd.ignoreNATS || d.ignoreNATS,
		IgnoreHTTP:           cd.ignoreHTTP || d.ignoreHTTP,
		IgnoreTracer:         cd.ignoreTracer || d.ignoreTracer,
		HideFaultDescription: cd.hideFault || d.hideFault,
		shape:                shape,
	}
	switch {
	case d.mqPost != nil:
		m.MQPost, m.MQPriority = true, *d.mqPost
	case cd.mqPost != nil:
		m.MQPost, m.MQPriority = true, *cd.mqPost
	}
	if restricted {
		m.Roles = ResolveRoles(append(slices.Clone(contractRoles), d.roles...)...)
	}
	return m, nil
}

func mergeAPIKeys(items []APIKey, defines []APIKeyDefine) []APIKey {
	out := make([]APIKey, len(items))
	for i, k := range items {
		for _, d := range defines {
			if d.Key == k.Key {
				k.Name = d.Name
				k.Description = d.Description
				break
			}
		}
		out[i] = k
	}
	return out
}
