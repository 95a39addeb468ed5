package system

import "sort"

// Layer describes the architectural slice a service belongs to.
type Layer string

const (
	LayerIngress Layer = "ingress"
	LayerEngine  Layer = "engine"
	LayerData    Layer = "data"
)

// Descriptor advertises a service's placement and capabilities. It does not
// change runtime behavior; it lets the /system/status endpoint introspect
// what's running.
type Descriptor struct {
	Name         string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// CollectDescriptors extracts descriptors from providers, skipping nil
// entries and services that don't advertise one, and sorts them for
// deterministic presentation (layer, then name).
func CollectDescriptors(providers []DescriptorProvider) []Descriptor {
	var out []Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
