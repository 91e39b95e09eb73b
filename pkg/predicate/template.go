package predicate

import (
	"strings"

	"github.com/apereo/persondir/pkg/persondir"
)

// TemplateMarker is the substitution marker a query or filter template must
// carry exactly once. The rendered predicate replaces it.
const TemplateMarker = "{0}"

// ValidateTemplate checks that template carries exactly one marker.
func ValidateTemplate(template string) error {
	if strings.Count(template, TemplateMarker) != 1 {
		return persondir.ConfigurationError("template must contain exactly one %q marker, got %q", TemplateMarker, template)
	}
	return nil
}

// Splice substitutes the rendered predicate into the template.
func Splice(template, rendered string) string {
	return strings.Replace(template, TemplateMarker, rendered, 1)
}
