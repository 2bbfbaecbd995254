package domain

import "strings"

// Capability identifies one user-facing function gated by the entitlement model.
type Capability string

const (
	CapabilityText           Capability = "texto"
	CapabilityDocTranslate   Capability = "documento"
	CapabilityDocToSpeech    Capability = "doc_voz"
	CapabilityAudioTranslate Capability = "audio"
	CapabilityImage          Capability = "imagen"
)

// CapabilitySpec declares what a capability accepts.
type CapabilitySpec struct {
	Name    Capability
	Label   string
	Accepts []ArtifactKind
}

// AcceptsKind reports whether the capability takes artifacts of kind k.
func (s CapabilitySpec) AcceptsKind(k ArtifactKind) bool {
	for _, accepted := range s.Accepts {
		if accepted == k {
			return true
		}
	}
	return false
}

var catalogue = []CapabilitySpec{
	{
		Name:    CapabilityText,
		Label:   "📝 Texto a Voz",
		Accepts: []ArtifactKind{ArtifactText},
	},
	{
		Name:    CapabilityDocTranslate,
		Label:   "🌐 Traductor Documentos",
		Accepts: []ArtifactKind{ArtifactDocument},
	},
	{
		Name:    CapabilityDocToSpeech,
		Label:   "📋 Documentos a Voz",
		Accepts: []ArtifactKind{ArtifactDocument},
	},
	{
		Name:    CapabilityAudioTranslate,
		Label:   "🎤 Traducir Audio",
		Accepts: []ArtifactKind{ArtifactAudio},
	},
	{
		Name:    CapabilityImage,
		Label:   "🖼️ Lector de Imágenes",
		Accepts: []ArtifactKind{ArtifactImage},
	},
}

// Capabilities returns the full capability catalogue in menu order.
func Capabilities() []CapabilitySpec {
	out := make([]CapabilitySpec, len(catalogue))
	copy(out, catalogue)
	return out
}

// CapabilityNames returns the names of every capability in menu order.
func CapabilityNames() []Capability {
	names := make([]Capability, len(catalogue))
	for i, spec := range catalogue {
		names[i] = spec.Name
	}
	return names
}

// LookupCapability resolves a capability by name.
func LookupCapability(name string) (CapabilitySpec, bool) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, spec := range catalogue {
		if string(spec.Name) == name {
			return spec, true
		}
	}
	return CapabilitySpec{}, false
}
