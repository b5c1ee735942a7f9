package japanize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestToHiragana(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"arigatou", "ありがとう"},
		{"sakka", "さっか"},
		{"kyou", "きょう"},
		{"hon", "ほん"},
		{"konnnichiha", "こんにちは"},
		{"tsukuru", "つくる"},
		{"shashin", "しゃしん"},
		{"go go", "ご ご"},
		{"abc123", "あbc123"}, // digits and stray consonants pass through
	}
	for _, tt := range tests {
		if got := ToHiragana(tt.in); got != tt.want {
			t.Errorf("ToHiragana(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"hello", false},
		{"こんにちは", true},      // already multibyte
		{"hello こんにちは", true}, // mixed still counts
		{"ｱｲｳｴｵ", true},       // half-width kana only
		{" ｱｲｳ", true},        // spaces allowed in the half-width check
		{"abcｱｲｳ", true},      // half-width kana is multibyte in UTF-8
		{"kore ha pen desu", false},
	}
	for _, tt := range tests {
		if got := ShouldSkip(tt.in); got != tt.want {
			t.Errorf("ShouldSkip(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIMEResponse(t *testing.T) {
	body := []byte(`[["へんかん",["変換","返還"]],["てすと",["テスト"]]]`)
	got, err := parseIMEResponse(body)
	if err != nil {
		t.Fatalf("parseIMEResponse: %v", err)
	}
	if got != "変換テスト" {
		t.Errorf("parseIMEResponse = %q, want 変換テスト", got)
	}

	// Segments with no candidates fall back to their source text.
	body = []byte(`[["のこす",[]]]`)
	got, err = parseIMEResponse(body)
	if err != nil {
		t.Fatalf("parseIMEResponse: %v", err)
	}
	if got != "のこす" {
		t.Errorf("parseIMEResponse = %q, want のこす", got)
	}

	if _, err := parseIMEResponse([]byte(`not json`)); err == nil {
		t.Errorf("malformed body should error")
	}
}

func TestIMEClientConvert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[["かな",["仮名"]]]`))
	}))
	defer srv.Close()

	c := NewIMEClient(time.Second)
	c.BaseURL = srv.URL + "/?text="

	got, err := c.Convert(context.Background(), "かな")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "仮名" {
		t.Errorf("Convert = %q, want 仮名", got)
	}
}

func TestConverterShieldsDictionaryTerms(t *testing.T) {
	// None type: dictionary replacement still applies, conversion does not.
	conv := NewConverter(time.Second)
	got, err := conv.Convert(context.Background(), "hello", None, map[string]string{"hello": "挨拶"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "hello" {
		t.Errorf("None type should leave text unchanged, got %q", got)
	}

	// Kana type: the dictionary key survives conversion via its
	// replacement value while surrounding romaji converts.
	got, err = conv.Convert(context.Background(), "steve ha tomodachi", Kana,
		map[string]string{"steve": "スティーブ"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := "スティーブ はともだち"
	if got != want {
		t.Errorf("Convert = %q, want %q", got, want)
	}
}

func TestConverterRemoteFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	conv := NewConverter(time.Second)
	conv.IME.BaseURL = srv.URL + "/?text="

	if _, err := conv.Convert(context.Background(), "kana", GoogleIME, nil); err == nil {
		t.Errorf("remote failure should surface as an error")
	}
}

func TestTypeByID(t *testing.T) {
	if got := TypeByID("kana", None); got != Kana {
		t.Errorf("TypeByID(kana) = %v", got)
	}
	if got := TypeByID("googleime", None); got != GoogleIME {
		t.Errorf("TypeByID(googleime) = %v", got)
	}
	if got := TypeByID("bogus", Kana); got != Kana {
		t.Errorf("unknown id should return default")
	}
}
