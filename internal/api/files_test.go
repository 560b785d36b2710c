package api

import (
	"testing"

	"github.com/clientpix/clientpix/internal/config"
	"github.com/clientpix/clientpix/internal/storage"
)

func TestParseVariant(t *testing.T) {
	cases := []struct {
		in   string
		want storage.Variant
	}{
		{"", storage.VariantOriginal},
		{"original", storage.VariantOriginal},
		{"web", storage.VariantWeb},
		{"thumbnail", storage.VariantThumbnail},
		{"thumb", storage.VariantThumbnail},
	}
	for _, c := range cases {
		got, err := parseVariant(c.in)
		if err != nil {
			t.Errorf("parseVariant(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseVariant(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := parseVariant("fullsize"); err == nil {
		t.Error("unknown variant accepted")
	}
}

func TestOriginAllowed(t *testing.T) {
	s := &Server{config: &config.Config{AllowedOrigins: "*"}}
	if !s.originAllowed("https://anything.example") {
		t.Error("wildcard should allow any origin")
	}

	s = &Server{config: &config.Config{
		AllowedOrigins: "https://pix.example.com, https://studio.example.com",
	}}
	if !s.originAllowed("https://pix.example.com") {
		t.Error("listed origin rejected")
	}
	if !s.originAllowed("https://studio.example.com") {
		t.Error("listed origin after comma-space rejected")
	}
	if s.originAllowed("https://evil.example.com") {
		t.Error("unlisted origin allowed")
	}
}
