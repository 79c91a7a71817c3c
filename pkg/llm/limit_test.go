package llm

import (
	"context"
	"testing"

	"github.com/harunnryd/voicedesk/pkg/callstate"
)

func TestReplyLimitApply(t *testing.T) {
	cases := []struct {
		name  string
		limit ReplyLimit
		in    string
		want  string
	}{
		{"unlimited", ReplyLimit{}, " One. Two. Three. Four. ", "One. Two. Three. Four."},
		{"sentences", ReplyLimit{MaxSentences: 2}, "Sure! We open at 8.30 tomorrow. Anything else? Bye.", "Sure! We open at 8.30 tomorrow."},
		{"no terminator", ReplyLimit{MaxSentences: 1}, "we can come by on Wednesday", "we can come by on Wednesday"},
		{"chars on word boundary", ReplyLimit{MaxChars: 12}, "Our plumber arrives soon", "Our plumber"},
		{"chars single word", ReplyLimit{MaxChars: 4}, "Supercalifragilistic", "Supe"},
		{"both", ReplyLimit{MaxSentences: 1, MaxChars: 100}, "Yes. No.", "Yes."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.limit.Apply(tc.in); got != tc.want {
				t.Fatalf("Apply(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestGeneratorAppliesReplyLimit(t *testing.T) {
	adapter := &stubAdapter{text: "Happy to help. A plumber can visit today. They bring parts. Anything else?"}
	g := NewGenerator(adapter, GeneratorOptions{Limit: ReplyLimit{MaxSentences: 2}})
	reply, err := g.Generate(context.Background(), nil, callstate.BusinessConfig{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "Happy to help. A plumber can visit today." {
		t.Fatalf("unexpected reply %q", reply)
	}
}
