package host

import (
	"github.com/mnehpets/servicebox/schema"
)

// Member kinds in the metadata document.
const (
	KindMethod = "method"
	KindEvent  = "event"
)

// MemberInfo describes one method or event in the metadata document.
type MemberInfo struct {
	Kind        string          `json:"kind"`
	Description string          `json:"description,omitempty"`
	Params      []schema.Schema `json:"params,omitempty"`
	Returns     schema.Schema   `json:"returns,omitempty"`
	Schema      schema.Schema   `json:"schema,omitempty"`
}

// Metadata describes every method and event of the host, keyed by qualified
// name. Missing schemas are reported as schema.Any().
func (h *Host) Metadata() map[string]MemberInfo {
	out := make(map[string]MemberInfo)
	for _, ns := range h.order {
		reg := h.namespaces[ns]
		for name, m := range reg.Methods() {
			sig := m.Signature()
			params := make([]schema.Schema, len(sig.Params))
			for i, p := range sig.Params {
				params[i] = orAny(p)
			}
			out[ns+"/"+name] = MemberInfo{
				Kind:        KindMethod,
				Description: sig.Description,
				Params:      params,
				Returns:     orAny(sig.Returns),
			}
		}
		for name, ev := range reg.Events() {
			out[ns+"/"+name] = MemberInfo{
				Kind:   KindEvent,
				Schema: orAny(ev.Schema()),
			}
		}
	}
	return out
}

func orAny(s schema.Schema) schema.Schema {
	if s == nil {
		return schema.Any()
	}
	return s
}
