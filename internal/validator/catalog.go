package validator

import "github.com/bcnelson/keypool-manager/internal/domain"

// Model describes one remote model a key is probed against.
type Model struct {
	Name      string
	Endpoint  string // method suffix, e.g. "generateContent"
	Features  []domain.Capability
	MaxTokens int
}

// DefaultCatalog is the fixed set of models probed for every key, in
// preference order.
var DefaultCatalog = []Model{
	{
		Name:      "gemini-2.5-pro",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapCodeExecution, domain.CapFunctionCalling, domain.CapSearchGrounding},
		MaxTokens: 1048576,
	},
	{
		Name:      "gemini-2.5-flash",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapCodeExecution, domain.CapFunctionCalling, domain.CapSearchGrounding},
		MaxTokens: 1048576,
	},
	{
		Name:      "gemini-2.0-flash",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapAudio, domain.CapVideo, domain.CapFunctionCalling},
		MaxTokens: 1048576,
	},
	{
		Name:      "gemini-2.0-flash-preview-image-generation",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapImage},
		MaxTokens: 32768,
	},
	{
		Name:      "gemini-1.5-pro",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapAudio, domain.CapVideo},
		MaxTokens: 2097152,
	},
	{
		Name:      "gemini-1.5-flash",
		Endpoint:  "generateContent",
		Features:  []domain.Capability{domain.CapText, domain.CapAudio, domain.CapVideo},
		MaxTokens: 1048576,
	},
}
