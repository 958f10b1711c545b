package kie

import (
	"fmt"

	"github.com/digkill/WeddingAI/internal/models"
)

var stylePrompts = map[models.Style]string{
	models.StyleClassic:   "timeless classic wedding portrait, soft natural light, elegant formal attire, neutral tones",
	models.StyleModern:    "modern editorial wedding photo, clean minimal background, crisp lighting, contemporary fashion",
	models.StyleVintage:   "vintage film wedding photograph, warm grain, faded colors, 1970s analog look",
	models.StyleRomantic:  "romantic golden hour wedding portrait, dreamy bokeh, flowers, gentle pastel palette",
	models.StyleCinematic: "cinematic wedding still, dramatic lighting, anamorphic depth of field, moody color grade",
	models.StyleFairytale: "fairytale wedding scene, enchanted castle garden, sparkling lights, storybook atmosphere",
}

var roleSubjects = map[models.Role]string{
	models.RoleGroom:  "the groom from the reference photo",
	models.RoleBride:  "the bride from the reference photo",
	models.RoleCouple: "the bride and groom from the reference photos together",
}

// BuildPrompt describes the picture to generate. Faces must stay those of
// the reference images.
func BuildPrompt(style models.Style, role models.Role) string {
	subject, ok := roleSubjects[role]
	if !ok {
		subject = "the person from the reference photo"
	}
	look, ok := stylePrompts[style]
	if !ok {
		look = stylePrompts[models.StyleClassic]
	}
	return fmt.Sprintf("Photorealistic wedding photo of %s, %s. Preserve facial identity exactly, high detail, no text, no watermark.", subject, look)
}
