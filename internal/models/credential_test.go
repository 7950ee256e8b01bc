package models

import "testing"

func TestIsValidCategory(t *testing.T) {
	for _, c := range []string{CategoryWebsite, CategoryYouTube, CategorySocialMedia} {
		if !IsValidCategory(c) {
			t.Errorf("IsValidCategory(%q) = false, want true", c)
		}
	}
	if IsValidCategory("domain_names") {
		t.Error("IsValidCategory accepted unknown category")
	}
}

func TestFilterCredentialFields(t *testing.T) {
	fields := map[string]string{
		"email":          "seller@example.com",
		"password":       "hunter2",
		"channel_url":    "https://youtube.com/@channel",
		"recovery_email": "", // empty values dropped
		"favorite_color": "blue", // unknown fields dropped
	}

	kept := FilterCredentialFields(CategoryYouTube, fields)

	if len(kept) != 3 {
		t.Fatalf("kept %d fields, want 3: %v", len(kept), kept)
	}
	for _, name := range []string{"email", "password", "channel_url"} {
		if _, ok := kept[name]; !ok {
			t.Errorf("expected field %q to be kept", name)
		}
	}
	if _, ok := kept["favorite_color"]; ok {
		t.Error("unknown field survived filtering")
	}
	if _, ok := kept["recovery_email"]; ok {
		t.Error("empty field survived filtering")
	}
}

func TestFilterCredentialFieldsUnknownCategory(t *testing.T) {
	kept := FilterCredentialFields("bogus", map[string]string{"email": "x"})
	if len(kept) != 0 {
		t.Errorf("unknown category kept %d fields, want 0", len(kept))
	}
}
