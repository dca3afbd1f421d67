package ocr

import "testing"

func TestTextChangeDetector(t *testing.T) {
	t.Parallel()

	d := NewTextChangeDetector()

	changed, first := d.Check("Hello World")
	if !changed {
		t.Fatal("first Check should always report a change")
	}
	if first == "" {
		t.Fatal("hash should not be empty")
	}

	// Case and whitespace jitter between OCR passes is not a change.
	changed, again := d.Check("  hello   world ")
	if changed {
		t.Fatal("normalised-equal text reported as changed")
	}
	if again != first {
		t.Fatalf("hash drifted: %q != %q", again, first)
	}

	changed, other := d.Check("something else")
	if !changed {
		t.Fatal("different text not reported as changed")
	}
	if other == first {
		t.Fatal("distinct texts hashed identically")
	}

	// The stored hash always tracks the last text seen.
	if changed, _ = d.Check("Hello World"); !changed {
		t.Fatal("returning to earlier text should count as a change")
	}

	d.Reset()
	if changed, _ = d.Check("Hello World"); !changed {
		t.Fatal("Check after Reset should report a change")
	}
}
