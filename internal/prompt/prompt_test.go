package prompt

import (
	"strings"
	"testing"
)

func TestBuildLeadsWithTriggerWord(t *testing.T) {
	sel := Selection{
		Style:    StyleCinematic,
		Location: LocationCity,
		Clothing: ClothingCasual,
	}

	p := Build("TOK123", sel, GenderFemale)

	if !strings.HasPrefix(p, "photo of TOK123 woman") {
		t.Errorf("prompt should lead with trigger word, got %q", p)
	}

	for _, want := range []string{
		Clothes[ClothingCasual].Text,
		Locations[LocationCity].Text,
		Styles[StyleCinematic].Text,
		qualitySuffix,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing fragment %q", want)
		}
	}
}

func TestBuildIncludesOnlySelectedCategories(t *testing.T) {
	sel := Selection{
		Style:      StyleRealistic,
		Categories: map[Category]bool{Lighting: true},
		Choices: map[Category]Choice{
			Lighting: "golden",
			Pose:     "walking", // not selected, must not appear
		},
	}

	p := Build("TOK", sel, GenderUnspecified)

	if !strings.Contains(p, Choices[Lighting]["golden"].Text) {
		t.Error("selected lighting choice missing from prompt")
	}

	if strings.Contains(p, Choices[Pose]["walking"].Text) {
		t.Error("unselected pose choice leaked into prompt")
	}
}

func TestBuildPrefersTranslatedDetails(t *testing.T) {
	sel := Selection{
		Details:           "с красным зонтом",
		TranslatedDetails: "holding a red umbrella",
	}

	p := Build("TOK", sel, GenderMale)

	if !strings.Contains(p, "holding a red umbrella") {
		t.Error("translated details missing")
	}
	if strings.Contains(p, "с красным зонтом") {
		t.Error("raw details should be replaced by translation")
	}
}

func TestBuildUnknownFragmentsIgnored(t *testing.T) {
	sel := Selection{Style: "no-such-style", Location: "nowhere"}

	p := Build("TOK", sel, GenderUnspecified)

	if strings.Contains(p, "no-such-style") || strings.Contains(p, "nowhere") {
		t.Errorf("unknown fragment ids leaked into prompt: %q", p)
	}
}

func TestCategoryRoundTrip(t *testing.T) {
	for _, c := range AllCategories() {
		got, ok := ParseCategory(c.String())
		if !ok || got != c {
			t.Errorf("ParseCategory(%q) = %v, %v", c.String(), got, ok)
		}
	}

	if _, ok := ParseCategory("bogus"); ok {
		t.Error("ParseCategory accepted unknown name")
	}
}

func TestChoiceKeysStableAndComplete(t *testing.T) {
	for _, c := range AllCategories() {
		keys := ChoiceKeys(c)
		if len(keys) != len(Choices[c]) {
			t.Errorf("%s: expected %d choices, got %d", c, len(Choices[c]), len(keys))
		}
		for i := 1; i < len(keys); i++ {
			if keys[i-1] >= keys[i] {
				t.Errorf("%s: keys not sorted: %v", c, keys)
			}
		}
	}
}

func TestCatalogsHaveLabels(t *testing.T) {
	for s, f := range Styles {
		if f.Label == "" || f.Text == "" {
			t.Errorf("style %q has empty label or text", s)
		}
	}
	for l, f := range Locations {
		if f.Label == "" || f.Text == "" {
			t.Errorf("location %q has empty label or text", l)
		}
	}
	for c, f := range Clothes {
		if f.Label == "" || f.Text == "" {
			t.Errorf("clothing %q has empty label or text", c)
		}
	}
}
