package http2

import (
	"testing"

	"go.h2c.dev/engine/http2utils"
)

func TestCutPadding(t *testing.T) {
	str := []byte{13}
	str = append(str, "8971293nfasv7asnrnqw9bma 237urkf8KifgiMKFG98UIM8fgnb kifgnrA7JKLK"...)

	p, err := http2utils.CutPadding(str, len(str))
	if err != nil {
		t.Fatal(err)
	}
	if want := len(str) - 13 - 1; len(p) != want {
		t.Fatalf("unexpected len: %d<>%d", len(p), want)
	}
}

func TestCutPaddingOutOfRange(t *testing.T) {
	str := []byte{255, 'a', 'b'}

	if _, err := http2utils.CutPadding(str, len(str)); err != http2utils.ErrPadding {
		t.Fatalf("expected ErrPadding, got %v", err)
	}
}

func BenchmarkCutPadding(b *testing.B) {
	str := []byte{17}
	str = append(str, "8971293nfasv7asnrnqw9bma 237urkf8KifgiMKFG98UIM8fgnb kifgnrA7JKLK"...)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p, err := http2utils.CutPadding(str, len(str))
		if err != nil || len(p) == 0 {
			b.Fatal("wrong cutting")
		}
	}
}
