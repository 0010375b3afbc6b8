package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParsePrefs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Prefs
		wantErr bool
	}{
		{"empty", "", Prefs{}, false},
		{"empty object", "{}", Prefs{}, false},
		{
			name: "all flags",
			raw:  `{"pushEnabled":true,"liveEnabled":false,"voteEnabled":true,"youtubeEnabled":true}`,
			want: Prefs{Push: Bool(true), Live: Bool(false), Vote: Bool(true), YouTube: Bool(true)},
		},
		{"string boolean", `{"pushEnabled":"true"}`, Prefs{}, true},
		{"number", `{"liveEnabled":1}`, Prefs{}, true},
		{"unknown key", `{"push":true}`, Prefs{}, true},
		{"not an object", `[true]`, Prefs{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrefs([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrefs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePrefs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrefsAllows(t *testing.T) {
	tests := []struct {
		name  string
		prefs Prefs
		cat   Category
		want  bool
	}{
		{"both set", Prefs{Push: Bool(true), Live: Bool(true)}, CategoryLive, true},
		{"global off", Prefs{Push: Bool(false), Live: Bool(true)}, CategoryLive, false},
		{"global missing", Prefs{Live: Bool(true)}, CategoryLive, false},
		{"category missing", Prefs{Push: Bool(true)}, CategoryVote, false},
		{"category off", Prefs{Push: Bool(true), YouTube: Bool(false)}, CategoryYouTube, false},
		{"youtube", Prefs{Push: Bool(true), YouTube: Bool(true)}, CategoryYouTube, true},
		{"unknown category", Prefs{Push: Bool(true), Live: Bool(true)}, Category("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.prefs.Allows(tt.cat); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.cat, got, tt.want)
			}
		})
	}
}

func TestParsePlatform(t *testing.T) {
	for _, s := range []string{"ios", "android", "web"} {
		if p, err := ParsePlatform(s); err != nil || string(p) != s {
			t.Errorf("ParsePlatform(%q) = %q, %v", s, p, err)
		}
	}
	if _, err := ParsePlatform("IOS"); err == nil {
		t.Error("ParsePlatform(IOS) should fail")
	}
}

func TestFeedKindCategory(t *testing.T) {
	got := map[FeedKind]Category{}
	for _, k := range Feeds {
		got[k] = k.Category()
	}
	want := map[FeedKind]Category{
		FeedLive:    CategoryLive,
		FeedVote:    CategoryVote,
		FeedYouTube: CategoryYouTube,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedStateClone(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	orig := NewFeedState(FeedVote)
	orig.Identity = []string{"a", "b"}
	orig.Aux["a"] = at
	orig.CheckedAt = &at

	c := orig.Clone()
	c.Identity[0] = "z"
	c.Aux["b"] = at
	*c.CheckedAt = at.Add(time.Hour)

	if orig.Identity[0] != "a" {
		t.Errorf("identity shared with clone: %v", orig.Identity)
	}
	if _, ok := orig.Aux["b"]; ok {
		t.Error("aux shared with clone")
	}
	if !orig.CheckedAt.Equal(at) {
		t.Errorf("CheckedAt shared with clone: %v", orig.CheckedAt)
	}
}
