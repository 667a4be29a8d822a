package feed

import "testing"

func TestCleanText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<p>Hello</p>", "Hello"},
		{"<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"Test&nbsp;space", "Test space"},
		{"<div>  Multiple   spaces  </div>", "Multiple spaces"},
		{"AT&amp;T", "AT&T"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.input); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"abcd", 3, "abc"},
		{"こんにちは世界です", 5, "こん..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestHosts(t *testing.T) {
	if !IsVideoHost("www.youtube.com") || !IsVideoHost("youtu.be") {
		t.Error("youtube hosts should be video hosts")
	}
	if IsVideoHost("notyoutube.com") {
		t.Error("suffix match must respect label boundaries")
	}
	if !IsMediaLink("https://open.spotify.com/episode/1") {
		t.Error("spotify links should be media links")
	}
	if IsMediaLink("https://www.bleepingcomputer.com/news/") {
		t.Error("news links are not media links")
	}
	if got := (Entry{Link: "https://News.Example/a"}).Host(); got != "news.example" {
		t.Errorf("Host() = %q", got)
	}
}
