package prompt

import (
	"sort"
	"strings"
)

// Fragment is one prompt building block with a user-facing label.
type Fragment struct {
	Label string
	Text  string
}

type Style string

const (
	StyleRealistic Style = "realistic"
	StyleCinematic Style = "cinematic"
	StyleFantasy   Style = "fantasy"
	StyleCyberpunk Style = "cyberpunk"
	StyleVintage   Style = "vintage"
	StyleAnime     Style = "anime"
)

var Styles = map[Style]Fragment{
	StyleRealistic: {Label: "Realistic", Text: "ultra realistic photography, natural skin texture"},
	StyleCinematic: {Label: "Cinematic", Text: "cinematic film still, dramatic color grading, shallow depth of field"},
	StyleFantasy:   {Label: "Fantasy", Text: "epic fantasy artwork, ethereal atmosphere, intricate details"},
	StyleCyberpunk: {Label: "Cyberpunk", Text: "cyberpunk style, neon lights, rain-slicked streets, high contrast"},
	StyleVintage:   {Label: "Vintage", Text: "vintage film photograph, kodak portra, subtle grain"},
	StyleAnime:     {Label: "Anime", Text: "anime style illustration, clean line art, vibrant colors"},
}

type Location string

const (
	LocationStudio    Location = "studio"
	LocationCity      Location = "city"
	LocationBeach     Location = "beach"
	LocationForest    Location = "forest"
	LocationMountains Location = "mountains"
	LocationCafe      Location = "cafe"
)

var Locations = map[Location]Fragment{
	LocationStudio:    {Label: "Studio", Text: "in a professional photo studio with seamless backdrop"},
	LocationCity:      {Label: "City", Text: "on a busy city street at golden hour"},
	LocationBeach:     {Label: "Beach", Text: "on a sunlit beach with turquoise water"},
	LocationForest:    {Label: "Forest", Text: "in a misty pine forest"},
	LocationMountains: {Label: "Mountains", Text: "in snow-capped mountains under a clear sky"},
	LocationCafe:      {Label: "Cafe", Text: "inside a cozy cafe by the window"},
}

type Clothing string

const (
	ClothingCasual   Clothing = "casual"
	ClothingBusiness Clothing = "business"
	ClothingEvening  Clothing = "evening"
	ClothingSport    Clothing = "sport"
	ClothingLeather  Clothing = "leather"
)

var Clothes = map[Clothing]Fragment{
	ClothingCasual:   {Label: "Casual", Text: "wearing casual jeans and a plain t-shirt"},
	ClothingBusiness: {Label: "Business", Text: "wearing a tailored business suit"},
	ClothingEvening:  {Label: "Evening", Text: "wearing elegant evening attire"},
	ClothingSport:    {Label: "Sport", Text: "wearing modern athletic sportswear"},
	ClothingLeather:  {Label: "Leather", Text: "wearing a black leather jacket"},
}

// Category is one refinable axis of the generation prompt.
type Category int

const (
	CameraAngle Category = iota
	ShotSize
	Lighting
	Pose
	Expression
	Focus
)

var categoryNames = map[Category]string{
	CameraAngle: "camera_angle",
	ShotSize:    "shot_size",
	Lighting:    "lighting",
	Pose:        "pose",
	Expression:  "expression",
	Focus:       "focus",
}

func (c Category) String() string {
	return categoryNames[c]
}

var categoryLabels = map[Category]string{
	CameraAngle: "Camera angle",
	ShotSize:    "Shot size",
	Lighting:    "Lighting",
	Pose:        "Pose",
	Expression:  "Expression",
	Focus:       "Focus",
}

func (c Category) Label() string {
	return categoryLabels[c]
}

// AllCategories returns categories in display order.
func AllCategories() []Category {
	return []Category{CameraAngle, ShotSize, Lighting, Pose, Expression, Focus}
}

// ParseCategory resolves a wire name back to a Category.
func ParseCategory(name string) (Category, bool) {
	for c, n := range categoryNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

type Choice string

var Choices = map[Category]map[Choice]Fragment{
	CameraAngle: {
		"eye_level": {Label: "Eye level", Text: "shot at eye level"},
		"low":       {Label: "Low angle", Text: "dramatic low angle shot"},
		"high":      {Label: "High angle", Text: "high angle shot looking down"},
	},
	ShotSize: {
		"closeup":  {Label: "Close-up", Text: "close-up portrait"},
		"half":     {Label: "Half body", Text: "medium shot, waist up"},
		"full":     {Label: "Full body", Text: "full body shot"},
	},
	Lighting: {
		"soft":    {Label: "Soft", Text: "soft diffused lighting"},
		"golden":  {Label: "Golden hour", Text: "warm golden hour light"},
		"studio":  {Label: "Studio", Text: "professional studio lighting"},
		"moody":   {Label: "Moody", Text: "moody low-key lighting"},
	},
	Pose: {
		"relaxed":  {Label: "Relaxed", Text: "relaxed natural pose"},
		"walking":  {Label: "Walking", Text: "candid walking pose"},
		"crossed":  {Label: "Arms crossed", Text: "confident pose with arms crossed"},
	},
	Expression: {
		"smile":   {Label: "Smile", Text: "warm genuine smile"},
		"serious": {Label: "Serious", Text: "calm serious expression"},
		"laugh":   {Label: "Laughing", Text: "joyful laughing expression"},
	},
	Focus: {
		"face":       {Label: "Face", Text: "sharp focus on the face"},
		"background": {Label: "Background blur", Text: "subject in focus, creamy bokeh background"},
	},
}

// ChoiceKeys returns the choice ids of a category in stable order.
func ChoiceKeys(c Category) []Choice {
	keys := make([]Choice, 0, len(Choices[c]))
	for k := range Choices[c] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type Gender int

const (
	GenderUnspecified Gender = iota
	GenderFemale
	GenderMale
)

func (g Gender) noun() string {
	switch g {
	case GenderFemale:
		return "woman"
	case GenderMale:
		return "man"
	default:
		return "person"
	}
}

// Selection accumulates the fragments picked during the prompt wizard.
type Selection struct {
	Style             Style
	Location          Location
	Clothing          Clothing
	Details           string
	TranslatedDetails string
	Choices           map[Category]Choice
	Categories        map[Category]bool
}

const qualitySuffix = "highly detailed, 8k, sharp focus, professional photography"

const negativePrompt = "deformed, distorted, disfigured, bad anatomy, extra limbs, " +
	"extra fingers, mutated hands, blurry, low quality, watermark, text, cropped head"

// Negative returns the standard negative prompt for generations.
func Negative() string {
	return negativePrompt
}

// Build assembles the final generation prompt. The trigger word always
// leads so the fine-tuned subject is invoked.
func Build(triggerWord string, sel Selection, g Gender) string {
	parts := []string{"photo of " + triggerWord + " " + g.noun()}

	if f, ok := Clothes[sel.Clothing]; ok {
		parts = append(parts, f.Text)
	}
	if f, ok := Locations[sel.Location]; ok {
		parts = append(parts, f.Text)
	}
	if f, ok := Styles[sel.Style]; ok {
		parts = append(parts, f.Text)
	}

	for _, c := range AllCategories() {
		if !sel.Categories[c] {
			continue
		}
		choice, ok := sel.Choices[c]
		if !ok {
			continue
		}
		if f, ok := Choices[c][choice]; ok {
			parts = append(parts, f.Text)
		}
	}

	details := sel.TranslatedDetails
	if details == "" {
		details = sel.Details
	}
	if details != "" {
		parts = append(parts, details)
	}

	parts = append(parts, qualitySuffix)

	return strings.Join(parts, ", ")
}
