package otid

import "testing"

func TestOfDataDeterministic(t *testing.T) {
	data := []byte("the quick brown fox")
	a := OfData(data)
	b := OfData(data)
	if a != b {
		t.Fatalf("OfData not deterministic: %v != %v", a, b)
	}
}

func TestHexRoundTrip(t *testing.T) {
	id := OfData([]byte("round trip me"))
	hex := id.String()

	if len(hex) != HexLen {
		t.Fatalf("String() length = %d, want %d", len(hex), HexLen)
	}

	back, err := FromHex(hex)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if back != id {
		t.Fatalf("round trip mismatch: %v != %v", back, id)
	}
}

func TestFromHexRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"zz00000000000000000000000000000000000000",
		"00000000000000000000000000000000000000" + "0", // one short
	}
	for _, c := range cases {
		if _, err := FromHex(c); err != ErrInvalidHex {
			t.Errorf("FromHex(%q) err = %v, want ErrInvalidHex", c, err)
		}
	}
}
