package clipsync

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ContentKind is the semantic classification of a text payload.
type ContentKind string

const (
	KindPlainText ContentKind = "plainText"
	KindJSON      ContentKind = "json"
	KindJWT       ContentKind = "jwt"
	KindHexColor  ContentKind = "hexColor"
)

// DetectionResult is a pure function of the classified input. It is never
// persisted; callers recompute it or serve it from the bounded cache.
type DetectionResult struct {
	Kind            ContentKind
	IsTransformable bool
	// Valid is set for JSON inputs.
	Valid bool
	// Literal holds the matched hex-color literal.
	Literal string
}

// TransformResult is the output of Transform. TransformedContent is empty
// for kinds that only produce a preview.
type TransformResult struct {
	TransformedContent string
	Preview            string
}

// maxClassifyBytes guards the classifier against pathological inputs.
// Anything larger is reported as plain text without inspection.
const maxClassifyBytes = 1 << 20

// hexColorPattern matches #RGB, #RRGGBB, and #RRGGBBAA (anchored, bounded).
var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Classify maps raw text to a content kind. Deterministic, no I/O, and
// sub-millisecond on typical clipboard payloads.
func Classify(text string) DetectionResult {
	if len(text) > maxClassifyBytes {
		return DetectionResult{Kind: KindPlainText}
	}
	trimmed := strings.TrimSpace(text)
	if isJSONDocument(trimmed) {
		return DetectionResult{Kind: KindJSON, IsTransformable: true, Valid: true}
	}
	if isJWTShape(trimmed) {
		return DetectionResult{Kind: KindJWT, IsTransformable: true}
	}
	if hexColorPattern.MatchString(trimmed) {
		return DetectionResult{Kind: KindHexColor, IsTransformable: true, Literal: trimmed}
	}
	return DetectionResult{Kind: KindPlainText}
}

// isJSONDocument requires an object or array root; bare scalars do not
// count as JSON clipboard content.
func isJSONDocument(text string) bool {
	if len(text) == 0 {
		return false
	}
	if text[0] != '{' && text[0] != '[' {
		return false
	}
	return json.Valid([]byte(text))
}

// isJWTShape checks the structural token rule: exactly three dot-separated
// non-empty base64url segments with the first two decodable.
func isJWTShape(text string) bool {
	segments := strings.Split(text, ".")
	if len(segments) != 3 {
		return false
	}
	for _, segment := range segments {
		if segment == "" {
			return false
		}
	}
	for _, segment := range segments[:2] {
		if _, err := decodeBase64URLSegment(segment); err != nil {
			return false
		}
	}
	return true
}

func decodeBase64URLSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
}

// Transform applies the kind-specific transformation to text.
//
// JSON is reformatted with two-space indentation; the operation is
// idempotent and preserves the document token-for-token, so decoding the
// output always yields a value deep-equal to decoding the input. JWTs are
// never modified: only a claims preview is produced. Hex colors get a
// channel preview.
func Transform(text string, kind ContentKind) (TransformResult, error) {
	switch kind {
	case KindJSON:
		return transformJSON(text)
	case KindJWT:
		return previewJWT(text, time.Now())
	case KindHexColor:
		return previewHexColor(text)
	case KindPlainText:
		return TransformResult{}, &ValidationError{Field: "kind", Message: "Plain text has no transformation."}
	default:
		return TransformResult{}, &ValidationError{Field: "kind", Message: "Unknown content kind: " + string(kind) + "."}
	}
}

func transformJSON(text string) (TransformResult, error) {
	trimmed := strings.TrimSpace(text)
	if !isJSONDocument(trimmed) {
		return TransformResult{}, &ValidationError{Field: "content", Message: "Content is not valid JSON."}
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(trimmed), "", "  "); err != nil {
		return TransformResult{}, &ValidationError{Field: "content", Message: "Content is not valid JSON."}
	}
	return TransformResult{TransformedContent: out.String()}, nil
}

func previewJWT(text string, now time.Time) (TransformResult, error) {
	trimmed := strings.TrimSpace(text)
	if !isJWTShape(trimmed) {
		return TransformResult{}, &ValidationError{Field: "content", Message: "Content is not a structurally valid JWT."}
	}
	segments := strings.Split(trimmed, ".")
	payloadBytes, err := decodeBase64URLSegment(segments[1])
	if err != nil {
		return TransformResult{}, &ValidationError{Field: "content", Message: "JWT payload is not decodable."}
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return TransformResult{}, &ValidationError{Field: "content", Message: "JWT payload is not a JSON object."}
	}

	var b strings.Builder
	subject, ok := subjectClaim(claims)
	if ok {
		fmt.Fprintf(&b, "Subject: %s\n", subject)
	} else {
		b.WriteString("Subject: (none)\n")
	}
	b.WriteString("Status: " + expirationStatus(claims, now) + "\n")
	b.WriteString("Claims:\n")
	keys := make([]string, 0, len(claims))
	for key := range claims {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", key, claims[key])
	}
	return TransformResult{Preview: b.String()}, nil
}

// subjectClaim resolves the subject across the claim aliases the original
// clients emit, in priority order.
func subjectClaim(claims map[string]any) (string, bool) {
	for _, key := range []string{"sub", "user_id", "user"} {
		if value, ok := claims[key]; ok {
			return fmt.Sprintf("%v", value), true
		}
	}
	return "", false
}

func expirationStatus(claims map[string]any, now time.Time) string {
	raw, ok := claims["exp"]
	if !ok {
		return "NO EXPIRATION"
	}
	var exp int64
	switch v := raw.(type) {
	case float64:
		exp = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return "NO EXPIRATION"
		}
		exp = parsed
	default:
		return "NO EXPIRATION"
	}
	if time.Unix(exp, 0).After(now) {
		return "VALID"
	}
	return "EXPIRED"
}

func previewHexColor(text string) (TransformResult, error) {
	trimmed := strings.TrimSpace(text)
	if !hexColorPattern.MatchString(trimmed) {
		return TransformResult{}, &ValidationError{Field: "content", Message: "Content is not a hex color literal."}
	}
	digits := trimmed[1:]
	if len(digits) == 3 {
		expanded := make([]byte, 6)
		for i := 0; i < 3; i++ {
			expanded[2*i] = digits[i]
			expanded[2*i+1] = digits[i]
		}
		digits = string(expanded)
	}
	r, _ := strconv.ParseUint(digits[0:2], 16, 8)
	g, _ := strconv.ParseUint(digits[2:4], 16, 8)
	b, _ := strconv.ParseUint(digits[4:6], 16, 8)
	preview := fmt.Sprintf("%s  R:%d G:%d B:%d", trimmed, r, g, b)
	if len(digits) == 8 {
		a, _ := strconv.ParseUint(digits[6:8], 16, 8)
		preview = fmt.Sprintf("%s A:%d", preview, a)
	}
	return TransformResult{Preview: preview}, nil
}
