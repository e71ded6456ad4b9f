package ingest

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		title    string
		expected string
	}{
		{"Hello, World!", "hello-world"},
		{"Новый метод диагностики", "novyy-metod-diagnostiki"},
		{"Café résumé", "cafe-resume"},
		{"  leading  and  trailing  ", "leading-and-trailing"},
		{"PET/CT: итоги 2024 года", "pet-ct-itogi-2024-goda"},
		{"!!!", ""},
	}

	for _, tt := range tests {
		if got := Slugify(tt.title); got != tt.expected {
			t.Errorf("Expected slug %q for %q, got: %q", tt.expected, tt.title, got)
		}
	}
}

func TestSlugifyBoundedLength(t *testing.T) {
	slug := Slugify(strings.Repeat("word ", 50))

	if len(slug) > slugMaxLength {
		t.Errorf("Expected slug length <= %d, got: %d", slugMaxLength, len(slug))
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("Expected no trailing hyphen, got: %q", slug)
	}
}

func TestSlugifyIsDeterministic(t *testing.T) {
	first := Slugify("Ядерная медицина сегодня")
	second := Slugify("Ядерная медицина сегодня")

	if first != second {
		t.Errorf("Expected deterministic slugs, got %q and %q", first, second)
	}
}
