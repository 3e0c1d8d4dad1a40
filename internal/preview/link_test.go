package preview

import "testing"

func TestFirstLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: "see https://example.com/a now", want: "https://example.com/a"},
		{name: "first of many", text: "http://a.test https://b.test", want: "http://a.test"},
		{name: "formatting stripped", text: "look \x02https://bold.test\x02", want: "https://bold.test"},
		{name: "color stripped", text: "\x0304,01http://red.test", want: "http://red.test"},
		{name: "scheme must lead", text: "<https://x.test>", want: ""},
		{name: "other scheme", text: "ftp://files.test", want: ""},
		{name: "uppercase scheme", text: "HTTPS://x.test", want: ""},
		{name: "tab delimited", text: "see\thttps://tab.test", want: "https://tab.test"},
		{name: "newline delimited", text: "line\nhttp://nl.test\nmore", want: "http://nl.test"},
		{name: "none", text: "no links here", want: ""},
		{name: "empty", text: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FirstLink(tt.text); got != tt.want {
				t.Fatalf("FirstLink(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestEscapeHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii untouched", in: "https://example.com/a?b=c#d", want: "https://example.com/a?b=c#d"},
		{name: "non ascii", in: "https://example.com/é", want: "https://example.com/%C3%A9"},
		{name: "astral", in: "https://x.test/😀", want: "https://x.test/%F0%9F%98%80"},
		{name: "control and del", in: "a\tb\x7Fc", want: "a%09b%7Fc"},
		{name: "invalid utf8 dropped", in: "https://x.test/\xed\xa0\x80ok", want: "https://x.test/ok"},
		{name: "stray byte dropped", in: "a\xffb", want: "ab"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EscapeHeader(tt.in); got != tt.want {
				t.Fatalf("EscapeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
