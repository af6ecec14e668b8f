package gitx

import (
	"strings"
	"testing"
)

func TestParsePushRefs(t *testing.T) {
	input := strings.Join([]string{
		"refs/heads/main 1111111111111111111111111111111111111111 refs/heads/main 2222222222222222222222222222222222222222",
		"",
		"refs/heads/feature 3333333333333333333333333333333333333333 refs/heads/feature 0000000000000000000000000000000000000000",
		"garbage line",
	}, "\n")

	updates, err := ParsePushRefs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParsePushRefs() error = %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].LocalRef != "refs/heads/main" {
		t.Errorf("LocalRef = %q", updates[0].LocalRef)
	}
	if updates[0].RemoteSHA != "2222222222222222222222222222222222222222" {
		t.Errorf("RemoteSHA = %q", updates[0].RemoteSHA)
	}
	if updates[1].RemoteSHA != "0000000000000000000000000000000000000000" {
		t.Errorf("new-branch RemoteSHA = %q", updates[1].RemoteSHA)
	}
}

func TestParsePushRefs_Empty(t *testing.T) {
	updates, err := ParsePushRefs(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParsePushRefs() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("got %d updates, want 0", len(updates))
	}
}

func TestParseRefTxLines(t *testing.T) {
	input := "1111111111111111111111111111111111111111 0000000000000000000000000000000000000000 refs/heads/main\n"

	updates, err := ParseRefTxLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseRefTxLines() error = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Ref != "refs/heads/main" {
		t.Errorf("Ref = %q", u.Ref)
	}
	if u.NewSHA != "0000000000000000000000000000000000000000" {
		t.Errorf("NewSHA = %q", u.NewSHA)
	}
}

func TestBranchFromRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"refs/heads/main", "main"},
		{"refs/heads/release/1.2", "release/1.2"},
		{"refs/tags/v1.0", "refs/tags/v1.0"},
		{"main", "main"},
	}
	for _, tt := range tests {
		if got := BranchFromRef(tt.ref); got != tt.want {
			t.Errorf("BranchFromRef(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestIsBranchRef(t *testing.T) {
	if !IsBranchRef("refs/heads/main") {
		t.Error("refs/heads/main should be a branch ref")
	}
	if IsBranchRef("refs/tags/v1.0") {
		t.Error("refs/tags/v1.0 should not be a branch ref")
	}
}

func TestSlugFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"git@github.com:acme/api.git", "acme/api"},
		{"https://github.com/acme/api.git", "acme/api"},
		{"https://github.com/acme/api", "acme/api"},
		{"ssh://git@github.com/acme/api.git", "acme/api"},
		{"https://gitlab.example.com/group/sub/api.git", "sub/api"},
		{"not-a-url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := SlugFromURL(tt.url); got != tt.want {
				t.Errorf("SlugFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
