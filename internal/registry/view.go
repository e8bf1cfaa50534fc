package registry

import "github.com/roach88/podwire/internal/ir"

// NewswireContentTypes are the values of content.type on newswire messages.
// "flavor" is ambient office chatter; the others are market news.
var NewswireContentTypes = map[string]bool{
	"flavor":   true,
	"info":     true,
	"alert":    true,
	"breaking": true,
}

// Query filters a registry for read views.
type Query struct {
	// Channel restricts to one channel when non-empty.
	Channel ir.Channel
	// IncludeInactive returns soft-deleted definitions too.
	IncludeInactive bool
	// ContentTypes restricts to definitions whose content.type is listed.
	ContentTypes []string
}

// Filter returns the matching definitions in insertion order.
func (r *Registry) Filter(q Query) []ir.MessageDefinition {
	var out []ir.MessageDefinition
	for _, e := range r.entries {
		d := e.Def
		if q.Channel != "" && d.Channel != q.Channel {
			continue
		}
		if !q.IncludeInactive && !d.Active {
			continue
		}
		if len(q.ContentTypes) > 0 && !hasContentType(d, q.ContentTypes) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Definitions returns every definition in insertion order.
func (r *Registry) Definitions() []ir.MessageDefinition {
	return r.Filter(Query{IncludeInactive: true})
}

func hasContentType(d ir.MessageDefinition, types []string) bool {
	ct, _ := d.Content["type"].(string)
	for _, t := range types {
		if ct == t {
			return true
		}
	}
	return false
}
