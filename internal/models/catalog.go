package models

// GenerationModel describes what an image model can do and which checks it
// needs before credits are spent on it.
type GenerationModel struct {
	ID                     string
	ProviderModel          string
	RequiresReferenceFace  bool
	SupportsMultiReference bool
	ImagesPerRequest       int
}

const (
	ModelFlux2      = "flux-2"
	ModelNanoBanana = "nano-banana-pro"

	DefaultModelID = ModelNanoBanana
)

var catalog = map[string]GenerationModel{
	ModelFlux2: {
		ID:               ModelFlux2,
		ProviderModel:    "flux-2/pro-image-to-image",
		ImagesPerRequest: 1,
	},
	ModelNanoBanana: {
		ID:                     ModelNanoBanana,
		ProviderModel:          "nano-banana-pro",
		RequiresReferenceFace:  true,
		SupportsMultiReference: true,
		ImagesPerRequest:       1,
	},
}

// LookupModel resolves a model id; an empty id selects the default model.
func LookupModel(id string) (GenerationModel, bool) {
	if id == "" {
		id = DefaultModelID
	}
	m, ok := catalog[id]
	return m, ok
}
