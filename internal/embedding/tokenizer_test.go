package embedding

import (
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	tok := &HashTokenizer{}
	ids, attn, types := tok.Tokenize("Hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Errorf("special tokens misplaced: %v", ids)
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask = %v", attn)
	}
	again, _, _ := tok.Tokenize("hello WORLD", 10)
	if again[1] != ids[1] || again[2] != ids[2] {
		t.Error("tokenization should be case-insensitive and deterministic")
	}
}

func TestHashTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := (&HashTokenizer{}).Tokenize("a b c d e f g h", 4)
	if ids[3] != sepToken {
		t.Errorf("last position should be SEP, got %v", ids)
	}
	for _, m := range attn {
		if m != 1 {
			t.Errorf("all positions should be attended: %v", attn)
		}
	}
}
