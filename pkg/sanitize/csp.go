package sanitize

import "strings"

// Directive is one content-security-policy directive and its source values
type Directive struct {
	Name   string
	Values []string
}

// WidgetFrameDirectives is the policy applied to frames rendering widget content
var WidgetFrameDirectives = []Directive{
	{Name: "default-src", Values: []string{"'self'"}},
	{Name: "script-src", Values: []string{"'self'"}},
	{Name: "style-src", Values: []string{"'self'", "'unsafe-inline'"}},
	{Name: "img-src", Values: []string{"'self'", "data:", "https:"}},
	{Name: "connect-src", Values: []string{"'self'"}},
	{Name: "font-src", Values: []string{"'self'", "data:"}},
	{Name: "object-src", Values: []string{"'none'"}},
	{Name: "media-src", Values: []string{"'self'"}},
	{Name: "frame-src", Values: []string{"'none'"}},
}

// ContentSecurityPolicy renders WidgetFrameDirectives as a header value
func ContentSecurityPolicy() string {
	return BuildPolicy(WidgetFrameDirectives)
}

// BuildPolicy joins directives as "name v1 v2; name v1; ..." in table order
func BuildPolicy(directives []Directive) string {
	parts := make([]string, 0, len(directives))
	for _, d := range directives {
		fields := append([]string{d.Name}, d.Values...)
		parts = append(parts, strings.Join(fields, " "))
	}
	return strings.Join(parts, "; ")
}
