package models

import "testing"

func TestMemoryTagsRoundTrip(t *testing.T) {
	var m Memory
	m.SetTags([]string{"boss战", "剧情"})
	got := m.TagList()
	if len(got) != 2 || got[0] != "boss战" || got[1] != "剧情" {
		t.Fatalf("tags = %v", got)
	}

	m.SetTags(nil)
	if m.Tags != "" {
		t.Fatalf("empty tags must clear the column, got %q", m.Tags)
	}
	if m.TagList() != nil {
		t.Fatal("empty column must yield no tags")
	}
}

func TestTagListIgnoresGarbage(t *testing.T) {
	m := Memory{Tags: "{not json"}
	if m.TagList() != nil {
		t.Fatal("invalid json must yield no tags")
	}
}
