package corrections

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{
			"tracking parameters stripped",
			"https://youtube.com/watch?v=abc123&utm_source=share&utm_medium=social",
			"https://youtube.com/watch?v=abc123",
			true,
		},
		{
			"fbclid stripped",
			"https://shop.example.com/qi10?fbclid=IwAR123",
			"https://shop.example.com/qi10",
			true,
		},
		{
			"host case insensitive",
			"https://YouTube.com/watch?v=abc123",
			"https://youtube.com/watch?v=abc123",
			true,
		},
		{
			"fragment dropped",
			"https://shop.example.com/qi10#reviews",
			"https://shop.example.com/qi10",
			true,
		},
		{
			"trailing slash trimmed",
			"https://shop.example.com/qi10/",
			"https://shop.example.com/qi10",
			true,
		},
		{
			"different video ids stay distinct",
			"https://youtube.com/watch?v=abc123",
			"https://youtube.com/watch?v=xyz789",
			false,
		},
		{
			"meaningful params preserved",
			"https://shop.example.com/search?q=driver",
			"https://shop.example.com/search?q=putter",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeInput(InputURL, tt.a) == NormalizeInput(InputURL, tt.b)
			if got != tt.same {
				t.Errorf("normalized equality = %v, want %v\n  a: %s\n  b: %s",
					got, tt.same, NormalizeInput(InputURL, tt.a), NormalizeInput(InputURL, tt.b))
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	a := NormalizeInput(InputText, "  Golf Driver   Carbon  ")
	b := NormalizeInput(InputText, "golf driver carbon")
	if a != b {
		t.Errorf("text normalization mismatch: %q vs %q", a, b)
	}
}

func TestHashInputStableAcrossEquivalents(t *testing.T) {
	h1 := HashInput(InputURL, "https://youtube.com/watch?v=abc123&utm_campaign=spring")
	h2 := HashInput(InputURL, "https://YOUTUBE.com/watch?v=abc123")
	if h1 != h2 {
		t.Error("equivalent URLs hash differently")
	}

	if HashInput(InputURL, "https://youtube.com/watch?v=abc123") == HashInput(InputText, "https://youtube.com/watch?v=abc123") {
		t.Error("input type must partition the hash space")
	}
}
