package persondir

import (
	"github.com/apereo/persondir/pkg/attribute"
)

// Person is one resolved subject: its identifier and the multi-valued
// attributes the sources produced for it.
type Person struct {
	Name       string        `json:"name"`
	Attributes attribute.Map `json:"attributes"`
}

// NewPerson builds a Person. A nil attribute map is normalized to an empty
// one so callers can always range over Attributes.
func NewPerson(name string, attrs attribute.Map) *Person {
	if attrs == nil {
		attrs = attribute.New()
	}
	return &Person{Name: name, Attributes: attrs}
}

// AttributeValue returns the first value of the named attribute, or nil.
func (p *Person) AttributeValue(name string) any {
	return p.Attributes.Value(name)
}

// AttributeValues returns the ordered values of the named attribute.
func (p *Person) AttributeValues(name string) []any {
	return p.Attributes.Values(name)
}

// Clone returns a deep copy of p.
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	return &Person{Name: p.Name, Attributes: p.Attributes.Clone()}
}
