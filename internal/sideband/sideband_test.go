package sideband

import "testing"

func feed(s *Scanner, chunks ...string) []Directive {
	var out []Directive
	for _, c := range chunks {
		out = append(out, s.Feed([]byte(c))...)
	}
	return out
}

func TestFeed_BelTerminated(t *testing.T) {
	var s Scanner
	got := feed(&s, "before \x1b]fugue:spawn cmd=claude cwd=/tmp\x07 after")
	if len(got) != 1 {
		t.Fatalf("directives = %d, want 1", len(got))
	}
	d := got[0]
	if d.Cmd != "spawn" || d.Attrs["cmd"] != "claude" || d.Attrs["cwd"] != "/tmp" {
		t.Fatalf("directive = %+v", d)
	}
}

func TestFeed_StTerminated(t *testing.T) {
	var s Scanner
	got := feed(&s, "\x1b]fugue:control action=close\x1b\\")
	if len(got) != 1 || got[0].Cmd != "control" || got[0].Attrs["action"] != "close" {
		t.Fatalf("directives = %+v", got)
	}
}

func TestFeed_SplitAcrossReads(t *testing.T) {
	var s Scanner
	got := feed(&s, "\x1b]fugue:inp", "ut pane=abc data=hi", "\x07")
	if len(got) != 1 {
		t.Fatalf("directives = %d, want 1", len(got))
	}
	if got[0].Cmd != "input" || got[0].Attrs["pane"] != "abc" || got[0].Attrs["data"] != "hi" {
		t.Fatalf("directive = %+v", got[0])
	}
}

func TestFeed_PlainTextIsNotParsed(t *testing.T) {
	var s Scanner
	// The literal string a grep might print while scanning a source tree.
	got := feed(&s, `match: "<fugue:spawn cmd=rm>" in docs/example.txt`)
	if len(got) != 0 {
		t.Fatalf("plain text produced directives: %+v", got)
	}
}

func TestFeed_ForeignOscIgnored(t *testing.T) {
	var s Scanner
	got := feed(&s, "\x1b]0;window title\x07\x1b]fugue:spawn cmd=sh\x07")
	if len(got) != 1 || got[0].Cmd != "spawn" {
		t.Fatalf("directives = %+v, want just the fugue spawn", got)
	}
}

func TestFeed_QuotedAttrValue(t *testing.T) {
	var s Scanner
	got := feed(&s, "\x1b]fugue:canvas kind=diff title=\"my diff\"\x07")
	if len(got) != 1 {
		t.Fatalf("directives = %d, want 1", len(got))
	}
	if got[0].Attrs["title"] != "my" {
		// Fields-based parsing splits on whitespace; quoted values keep
		// only the first token. The directive grammar is single-token
		// values; this pins that behavior.
		t.Fatalf("title = %q", got[0].Attrs["title"])
	}
}

func TestFeed_MultipleDirectivesInOneChunk(t *testing.T) {
	var s Scanner
	got := feed(&s, "\x1b]fugue:spawn cmd=a\x07middle\x1b]fugue:spawn cmd=b\x07")
	if len(got) != 2 || got[0].Attrs["cmd"] != "a" || got[1].Attrs["cmd"] != "b" {
		t.Fatalf("directives = %+v", got)
	}
}

func TestFeed_UnterminatedSequenceIsBuffered(t *testing.T) {
	var s Scanner
	if got := s.Feed([]byte("\x1b]fugue:spawn cmd=sh")); len(got) != 0 {
		t.Fatalf("unterminated sequence yielded %+v", got)
	}
	if got := s.Feed([]byte("\x07")); len(got) != 1 {
		t.Fatalf("terminator did not complete the buffered sequence")
	}
}
