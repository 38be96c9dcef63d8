package contract

import "reflect"

type scope int

const (
	scopeContract scope = iota
	scopeMethod
)

// Header declares an HTTP-style header a method reads.
type Header struct {
	Name        string
	Description string
}

// APIKeyDefine defines an API-key security header once per contract.
type APIKeyDefine struct {
	Key         string
	Name        string
	Description string
}

// APIKey requires an API key on a method; Name and Description are copied
// from the matching APIKeyDefine.
type APIKey struct {
	Key         string
	Name        string
	Description string
}

// decl collects the declarations made on a contract or one of its methods.
type decl struct {
	scope     scope
	misplaced []string

	tags          []string
	roles         []string
	faults        []Fault
	faultDefines  []Fault
	groups        []FaultGroup
	inheritFaults bool
	headers       []Header
	apiKeys       []APIKey
	apiKeyDefines []APIKeyDefine
	ignoreNATS    bool
	ignoreHTTP    bool
	ignoreTracer  bool
	mqPost        *uint8
	hideFault     bool
	version       string

	params  []PPInfo
	returns reflect.Type
	generic bool
}

func (d *decl) only(s scope, name string) bool {
	if d.scope != s {
		d.misplaced = append(d.misplaced, name)
		return false
	}
	return true
}

// Option declares metadata on a contract or a method.
type Option func(*decl)

// Tag declares a documentation tag. A contract accepts at most one.
func Tag(name string) Option {
	return func(d *decl) { d.tags = append(d.tags, name) }
}

// Roles declares a role expression such as "admin,!guest".
func Roles(expr string) Option {
	return func(d *decl) { d.roles = append(d.roles, expr) }
}

// Faults declares fault mappings.
func Faults(f ...Fault) Option {
	return func(d *decl) { d.faults = append(d.faults, f...) }
}

// FaultDefines declares the contract's authoritative fault codes.
func FaultDefines(f ...Fault) Option {
	return func(d *decl) {
		if d.only(scopeContract, "FaultDefines") {
			d.faultDefines = append(d.faultDefines, f...)
		}
	}
}

// Groups merges fault groups into the contract's definitions.
func Groups(g ...FaultGroup) Option {
	return func(d *decl) {
		if d.only(scopeContract, "Groups") {
			d.groups = append(d.groups, g...)
		}
	}
}

// InheritFaults makes every group definition a default fault of every method.
func InheritFaults() Option {
	return func(d *decl) {
		if d.only(scopeContract, "InheritFaults") {
			d.inheritFaults = true
		}
	}
}

// Headers declares headers.
func Headers(h ...Header) Option {
	return func(d *decl) { d.headers = append(d.headers, h...) }
}

// APIKeys requires API keys.
func APIKeys(k ...APIKey) Option {
	return func(d *decl) { d.apiKeys = append(d.apiKeys, k...) }
}

// APIKeyDefines defines API-key headers for the contract.
func APIKeyDefines(k ...APIKeyDefine) Option {
	return func(d *decl) {
		if d.only(scopeContract, "APIKeyDefines") {
			d.apiKeyDefines = append(d.apiKeyDefines, k...)
		}
	}
}

// IgnoreNATS hides the contract or method from the NATS transport.
func IgnoreNATS() Option { return func(d *decl) { d.ignoreNATS = true } }

// IgnoreHTTP hides the contract or method from the HTTP transport.
func IgnoreHTTP() Option { return func(d *decl) { d.ignoreHTTP = true } }

// IgnoreTracer excludes the contract or method from call events.
func IgnoreTracer() Option { return func(d *decl) { d.ignoreTracer = true } }

// MQPost marks a queue post with a message priority hint.
func MQPost(priority uint8) Option {
	return func(d *decl) { d.mqPost = &priority }
}

// HideFaultDescription strips fault descriptions from wire faults.
func HideFaultDescription() Option { return func(d *decl) { d.hideFault = true } }

// Version sets the contract's semantic version.
func Version(v string) Option {
	return func(d *decl) {
		if d.only(scopeContract, "Version") {
			d.version = v
		}
	}
}

// Params declares a method's parameters in positional order.
func Params(p ...PPInfo) Option {
	return func(d *decl) {
		if d.only(scopeMethod, "Params") {
			d.params = append(d.params, p...)
		}
	}
}

// Returns declares a method's result type.
func Returns(t reflect.Type) Option {
	return func(d *decl) {
		if d.only(scopeMethod, "Returns") {
			d.returns = t
		}
	}
}

// Generic marks a method that is instantiated with caller-supplied type arguments.
func Generic() Option {
	return func(d *decl) {
		if d.only(scopeMethod, "Generic") {
			d.generic = true
		}
	}
}
