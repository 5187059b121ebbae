package langdetect

import (
	"testing"

	"golang.org/x/text/language"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"english", "The quick brown fox jumps over the lazy dog near the river bank.", "en", true},
		{"german", "Das ist ein ganz normaler Satz, der auf Deutsch geschrieben wurde.", "de", true},
		{"french", "Nous allons au marché demain matin pour acheter des légumes frais.", "fr", true},
		{"too short", "Hello.", "", false},
		{"blank", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Detect() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTag(t *testing.T) {
	tests := []struct {
		code string
		want language.Tag
	}{
		{"", language.Und},
		{"tr", language.Turkish},
		{"en", language.English},
		{"not a code!", language.Und},
	}
	for _, tt := range tests {
		if got := Tag(tt.code); got != tt.want {
			t.Errorf("Tag(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
