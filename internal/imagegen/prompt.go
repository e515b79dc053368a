package imagegen

const promptPrefix = "An image representing the provided description: "

// SynthesizePrompt builds the diffusion prompt for a description. The text is
// passed through as is.
func SynthesizePrompt(description string) string {
	return promptPrefix + description
}
