package planner

import (
	"strings"

	"aide/pkg/logx"
	"aide/pkg/proto"
)

// Corrections is the deterministic post-route repair policy applied to a
// decoded plan before execution.
type Corrections struct {
	// ToolAliases remaps commonly hallucinated tool names to registered
	// equivalents.
	ToolAliases map[string]string
	// MandatoryTools forces one tool when a route requires data but the
	// model returned an empty plan.
	MandatoryTools map[string]string
}

// DefaultCorrections covers the aliases the models actually produce.
func DefaultCorrections() Corrections {
	return Corrections{
		ToolAliases: map[string]string{
			"send_email":   "mail_send",
			"send_mail":    "mail_send",
			"email_send":   "mail_send",
			"create_event": "calendar_create",
			"add_event":    "calendar_create",
			"list_events":  "calendar_list",
			"find_contact": "contacts_search",
		},
		MandatoryTools: map[string]string{
			"calendar": "calendar_list",
			"contacts": "contacts_search",
		},
	}
}

// Apply rewrites the plan in place: aliased and normalized-matching tool
// names are remapped to catalog tools, steps that still reference unknown
// tools are dropped, and a mandatory tool is inserted when the route
// requires one and the plan came back empty.
func (c Corrections) Apply(out *Output, catalog proto.Catalog, logger *logx.Logger) {
	kept := out.ToolPlan[:0]
	for _, step := range out.ToolPlan {
		name := c.resolve(step.Name, catalog)
		if name == "" {
			if logger != nil {
				logger.Warn("dropping plan step with unknown tool %q", step.Name)
			}
			continue
		}
		step.Name = name
		kept = append(kept, step)
	}
	out.ToolPlan = kept

	if len(out.ToolPlan) == 0 && !out.AskUser {
		if mandatory, ok := c.MandatoryTools[out.Route]; ok {
			if _, known := catalog[mandatory]; known {
				if logger != nil {
					logger.Debug("forcing mandatory tool %s for route %s", mandatory, out.Route)
				}
				out.ToolPlan = []Step{{Name: mandatory, Args: out.Slots}}
			}
		}
	}
}

// resolve maps a model-produced tool name to a catalog tool, or "" when no
// equivalent exists.
func (c Corrections) resolve(name string, catalog proto.Catalog) string {
	if _, ok := catalog[name]; ok {
		return name
	}
	if alias, ok := c.ToolAliases[name]; ok {
		if _, known := catalog[alias]; known {
			return alias
		}
	}

	// Last resort: match on normalized names so snake/camel/case variants
	// of a registered tool still land.
	normalized := normalize(name)
	for candidate := range catalog {
		if normalize(candidate) == normalized {
			return candidate
		}
	}
	return ""
}

func normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
