package viewer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParse_example(t *testing.T) {
	in := "#EXTINF:-1 tvg-logo=\"http://x/logo.png\",News HD\nhttp://stream/1.m3u8"
	got := Parse(in)
	want := []Channel{{Name: "News HD", URL: "http://stream/1.m3u8", Logo: "http://x/logo.png"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse = %+v, want %+v", got, want)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Channel
	}{
		{
			name: "empty input",
			in:   "",
			want: []Channel{},
		},
		{
			name: "header only",
			in:   "#EXTM3U\n",
			want: []Channel{},
		},
		{
			name: "blank lines between metadata and url are ignored",
			in:   "#EXTM3U\n\n#EXTINF:-1,One\n\n   \nhttp://a/1\n",
			want: []Channel{{Name: "One", URL: "http://a/1"}},
		},
		{
			name: "no comma yields placeholder",
			in:   "#EXTINF:-1 tvg-id=\"x\"\nhttp://a/1",
			want: []Channel{{Name: PlaceholderName, URL: "http://a/1"}},
		},
		{
			name: "name after last comma trimmed",
			in:   "#EXTINF:-1 tvg-name=\"A, B\" group-title=\"News\",  Channel, The One  \nhttp://a/1",
			want: []Channel{{Name: "The One", URL: "http://a/1"}},
		},
		{
			name: "trailing comma gives empty name",
			in:   "#EXTINF:-1,\nhttp://a/1",
			want: []Channel{{Name: "", URL: "http://a/1"}},
		},
		{
			name: "metadata followed by directive emits nothing",
			in:   "#EXTINF:-1,Orphan\n#EXTVLCOPT:http-user-agent=x\n#EXTINF:-1,Two\nhttp://a/2",
			want: []Channel{{Name: "Two", URL: "http://a/2"}},
		},
		{
			name: "metadata directly followed by metadata",
			in:   "#EXTINF:-1,Orphan\n#EXTINF:-1,Two\nhttp://a/2",
			want: []Channel{{Name: "Two", URL: "http://a/2"}},
		},
		{
			name: "metadata at end of input",
			in:   "#EXTINF:-1,One\nhttp://a/1\n#EXTINF:-1,Dangling",
			want: []Channel{{Name: "One", URL: "http://a/1"}},
		},
		{
			name: "crlf line endings",
			in:   "#EXTM3U\r\n#EXTINF:-1 tvg-logo=\"l.png\",One\r\nhttp://a/1\r\n",
			want: []Channel{{Name: "One", URL: "http://a/1", Logo: "l.png"}},
		},
		{
			name: "url syntax is not validated",
			in:   "#EXTINF:-1,Odd\nnot a url at all",
			want: []Channel{{Name: "Odd", URL: "not a url at all"}},
		},
		{
			name: "duplicates are kept",
			in:   "#EXTINF:-1,Dup\nhttp://a/1\n#EXTINF:-1,Dup\nhttp://a/1",
			want: []Channel{{Name: "Dup", URL: "http://a/1"}, {Name: "Dup", URL: "http://a/1"}},
		},
		{
			name: "url lines without metadata are ignored",
			in:   "http://stray\n#EXTINF:-1,One\nhttp://a/1",
			want: []Channel{{Name: "One", URL: "http://a/1"}},
		},
		{
			name: "empty logo attribute",
			in:   "#EXTINF:-1 tvg-logo=\"\",One\nhttp://a/1",
			want: []Channel{{Name: "One", URL: "http://a/1", Logo: ""}},
		},
		{
			name: "logo anywhere on the line",
			in:   "#EXTINF:-1 group-title=\"x\" tvg-logo=\"http://l/1.png\" tvg-id=\"y\",One\nhttp://a/1",
			want: []Channel{{Name: "One", URL: "http://a/1", Logo: "http://l/1.png"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_preserves_order_for_n_entries(t *testing.T) {
	const n = 50
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-logo=\"http://logo/%d\",Channel %d\nhttp://stream/%d.m3u8\n", i, i, i)
	}

	got := Parse(b.String())
	if len(got) != n {
		t.Fatalf("expected %d channels, got %d", n, len(got))
	}
	for i, ch := range got {
		if ch.Name != fmt.Sprintf("Channel %d", i) || ch.URL != fmt.Sprintf("http://stream/%d.m3u8", i) {
			t.Errorf("entry %d out of order: %+v", i, ch)
		}
		if ch.Logo != fmt.Sprintf("http://logo/%d", i) {
			t.Errorf("entry %d logo = %q", i, ch.Logo)
		}
	}
}

func TestParse_malformed_entry_does_not_affect_following(t *testing.T) {
	in := "#EXTINF:-1,A\nhttp://a\n#EXTINF:-1,Broken\n#EXTINF:-1,B\nhttp://b\n"
	got := Parse(in)
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "B" {
		t.Errorf("unexpected result: %+v", got)
	}
}
