package clipsync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("signature"))
}

func TestClassifyKinds(t *testing.T) {
	jwt := makeJWT(t, map[string]any{"sub": "u1"})
	cases := []struct {
		input string
		kind  ContentKind
	}{
		{`{"a":1}`, KindJSON},
		{`[1,2,3]`, KindJSON},
		{`  {"padded": true} `, KindJSON},
		{`{"broken":`, KindPlainText},
		{`42`, KindPlainText},
		{`"just a string"`, KindPlainText},
		{jwt, KindJWT},
		{"a.b", KindPlainText},
		{"..", KindPlainText},
		{"#fff", KindHexColor},
		{"#A1B2C3", KindHexColor},
		{"#a1b2c3d4", KindHexColor},
		{"#a1b2c", KindPlainText},
		{"#ggg", KindPlainText},
		{"hello world", KindPlainText},
	}
	for _, tc := range cases {
		result := Classify(tc.input)
		if result.Kind != tc.kind {
			t.Fatalf("Classify(%q) = %s, expected %s", tc.input, result.Kind, tc.kind)
		}
		wantTransformable := tc.kind != KindPlainText
		if result.IsTransformable != wantTransformable {
			t.Fatalf("Classify(%q).IsTransformable = %v, expected %v", tc.input, result.IsTransformable, wantTransformable)
		}
	}
}

func TestClassifyOversizedInputIsPlainText(t *testing.T) {
	huge := "{" + strings.Repeat(`"k":1,`, 400000) + `"z":1}`
	if len(huge) <= maxClassifyBytes {
		t.Fatalf("test input not oversized: %d bytes", len(huge))
	}
	result := Classify(huge)
	if result.Kind != KindPlainText {
		t.Fatalf("oversized input classified as %s, expected plain text", result.Kind)
	}
}

func TestTransformJSONPrettyRoundTrip(t *testing.T) {
	input := `{"b":1,"a":[1,2,{"c":null,"d":"unié"}],"e":{"nested":[true,false]}}`
	first, err := Transform(input, KindJSON)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if first.TransformedContent == "" {
		t.Fatalf("expected transformed content")
	}

	// Idempotence: prettifying pretty output is byte identical.
	second, err := Transform(first.TransformedContent, KindJSON)
	if err != nil {
		t.Fatalf("second transform failed: %v", err)
	}
	if second.TransformedContent != first.TransformedContent {
		t.Fatalf("prettify not idempotent:\nfirst:  %q\nsecond: %q", first.TransformedContent, second.TransformedContent)
	}

	// Semantic round-trip: decoding output equals decoding input.
	var want, got any
	if err := json.Unmarshal([]byte(input), &want); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if err := json.Unmarshal([]byte(first.TransformedContent), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("semantic round-trip broken: %v != %v", want, got)
	}
}

func TestTransformJSONInvalid(t *testing.T) {
	if _, err := Transform(`{"broken":`, KindJSON); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestTransformJWTPreview(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	jwt := makeJWT(t, map[string]any{"sub": "user-42", "exp": future, "role": "admin"})
	result, err := Transform(jwt, KindJWT)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if result.TransformedContent != "" {
		t.Fatalf("JWT transform must never modify the token, got %q", result.TransformedContent)
	}
	if !strings.Contains(result.Preview, "Subject: user-42") {
		t.Fatalf("preview missing subject: %q", result.Preview)
	}
	if !strings.Contains(result.Preview, "Status: VALID") {
		t.Fatalf("preview missing VALID status: %q", result.Preview)
	}
	if !strings.Contains(result.Preview, "role: admin") {
		t.Fatalf("preview missing claim dump: %q", result.Preview)
	}
}

func TestTransformJWTExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	jwt := makeJWT(t, map[string]any{"user_id": "u7", "exp": past})
	result, err := Transform(jwt, KindJWT)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(result.Preview, "Status: EXPIRED") {
		t.Fatalf("expected EXPIRED status, got %q", result.Preview)
	}
	if !strings.Contains(result.Preview, "Subject: u7") {
		t.Fatalf("expected user_id fallback subject, got %q", result.Preview)
	}
}

func TestTransformJWTSubjectPriority(t *testing.T) {
	jwt := makeJWT(t, map[string]any{"sub": "primary", "user_id": "secondary", "user": "tertiary"})
	result, err := Transform(jwt, KindJWT)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(result.Preview, "Subject: primary") {
		t.Fatalf("expected sub to win the priority order, got %q", result.Preview)
	}
}

func TestTransformJWTMalformed(t *testing.T) {
	for _, input := range []string{"a.b", "a..c", "!!!.###.$$$", makeJWT(t, map[string]any{"sub": "x"}) + ".extra"} {
		if _, err := Transform(input, KindJWT); err == nil {
			t.Fatalf("expected error for malformed token %q", input)
		}
	}
}

func TestTransformHexColorPreview(t *testing.T) {
	result, err := Transform("#AbC", KindHexColor)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if result.TransformedContent != "" {
		t.Fatalf("hex color transform must not modify content")
	}
	if !strings.Contains(result.Preview, "R:170 G:187 B:204") {
		t.Fatalf("unexpected channel preview: %q", result.Preview)
	}

	withAlpha, err := Transform("#11223380", KindHexColor)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(withAlpha.Preview, "A:128") {
		t.Fatalf("expected alpha channel in preview: %q", withAlpha.Preview)
	}
}

func TestTransformPlainTextRejected(t *testing.T) {
	if _, err := Transform("hello", KindPlainText); err == nil {
		t.Fatalf("expected error for plain text transform")
	}
}

func BenchmarkClassifyTypicalPayload(b *testing.B) {
	payload := fmt.Sprintf(`{"key":"%s"}`, strings.Repeat("x", 2048))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Classify(payload)
	}
}
