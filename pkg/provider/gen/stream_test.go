package gen_test

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MrWong99/reverie/pkg/provider/gen"
)

func TestReadSSECollectsDataLines(t *testing.T) {
	stream := "data: Hel\n" +
		"\n" +
		": a comment\n" +
		"data:lo\r\n" +
		"\n" +
		"data: [DONE]\n" +
		"data: after done is never read\n"

	var got strings.Builder
	// One byte at a time exercises line reassembly across reads.
	err := gen.ReadSSE(iotest.OneByteReader(strings.NewReader(stream)), func(data string) error {
		got.WriteString(data)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSSE: %v", err)
	}
	if got.String() != "Hello" {
		t.Errorf("collected %q, want %q", got.String(), "Hello")
	}
}

func TestReadSSEStopsOnEmitError(t *testing.T) {
	stream := "data: one\ndata: two\n"
	boom := errors.New("boom")

	var seen []string
	err := gen.ReadSSE(strings.NewReader(stream), func(data string) error {
		seen = append(seen, data)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ReadSSE error = %v, want the emit error", err)
	}
	if len(seen) != 1 {
		t.Errorf("emit called %d times after failure, want 1", len(seen))
	}
}

func TestReadSSEWrapsReaderFailure(t *testing.T) {
	broken := iotest.ErrReader(errors.New("connection reset"))
	err := gen.ReadSSE(broken, func(string) error { return nil })
	if !errors.Is(err, gen.ErrNetwork) {
		t.Errorf("ReadSSE error = %v, want ErrNetwork", err)
	}
}

func TestReadSSEEndOfStreamWithoutDone(t *testing.T) {
	err := gen.ReadSSE(strings.NewReader("data: tail\n"), func(string) error { return nil })
	if err != nil {
		t.Errorf("ReadSSE = %v, want nil at natural EOF", err)
	}
}
