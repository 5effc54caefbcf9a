package clipsync

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// SecretType names the category a sensitive match falls into.
type SecretType string

const (
	SecretAPIKey      SecretType = "apiKey"
	SecretGitHubToken SecretType = "githubToken"
	SecretCloudKey    SecretType = "cloudKey"
	SecretJWT         SecretType = "jwt"
	SecretCreditCard  SecretType = "creditCard"
	SecretHighEntropy SecretType = "highEntropy"
)

// SensitivityResult reports whether content looks like a secret.
type SensitivityResult struct {
	IsSensitive bool
	Type        SecretType
	Reason      string
}

const (
	// maxDetectBytes is the fail-safe ceiling: oversized unknown content
	// is treated as sensitive instead of being inspected.
	maxDetectBytes = 1 << 20

	// entropyMinRunLength and entropyThreshold govern the Shannon-entropy
	// fallback over unbroken alphanumeric+symbol runs.
	entropyMinRunLength = 24
	entropyThreshold    = 4.0
)

// All patterns use bounded quantifiers so adversarial input cannot trigger
// catastrophic backtracking.
var (
	apiKeyPrefixPattern = regexp.MustCompile(`\b(?:sk|pk|rk)_(?:live|test)_[0-9a-zA-Z]{10,99}\b`)
	githubTokenPattern  = regexp.MustCompile(`\b(?:gh[pousr]_[0-9A-Za-z]{36,255}|github_pat_[0-9A-Za-z_]{22,255})\b`)
	cloudKeyPattern     = regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AROA)[0-9A-Z]{16}\b`)
	cardDigitPattern    = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

// Detector flags likely secrets in clipboard text: known key prefixes,
// token shapes, Luhn-valid card numbers, and high-entropy runs.
type Detector struct {
	// AsyncThresholdBytes is the size above which DetectAsync offloads
	// the scan to its own goroutine. Empirical, not semantic.
	AsyncThresholdBytes int
}

const DefaultDetectOffloadBytes = 10 * 1024

func NewDetector() *Detector {
	return &Detector{AsyncThresholdBytes: DefaultDetectOffloadBytes}
}

// Detect scans text synchronously. Pattern order matters: the first match
// wins, so the cheap literal-prefix checks run before the entropy fallback.
func (d *Detector) Detect(text string) SensitivityResult {
	if len(text) > maxDetectBytes {
		return SensitivityResult{IsSensitive: true, Reason: "too large"}
	}
	if apiKeyPrefixPattern.MatchString(text) {
		return SensitivityResult{IsSensitive: true, Type: SecretAPIKey, Reason: "known API key prefix"}
	}
	if githubTokenPattern.MatchString(text) {
		return SensitivityResult{IsSensitive: true, Type: SecretGitHubToken, Reason: "GitHub token prefix"}
	}
	if cloudKeyPattern.MatchString(text) {
		return SensitivityResult{IsSensitive: true, Type: SecretCloudKey, Reason: "cloud access key shape"}
	}
	if isJWTShape(strings.TrimSpace(text)) {
		return SensitivityResult{IsSensitive: true, Type: SecretJWT, Reason: "JWT structure"}
	}
	if hasLuhnValidCard(text) {
		return SensitivityResult{IsSensitive: true, Type: SecretCreditCard, Reason: "card number passes Luhn check"}
	}
	if hasHighEntropyRun(text) {
		return SensitivityResult{IsSensitive: true, Type: SecretHighEntropy, Reason: "high-entropy string"}
	}
	return SensitivityResult{}
}

// DetectAsync returns a channel that delivers exactly one result. Inputs at
// or below the threshold are scanned inline so small payloads keep their
// synchronous latency.
func (d *Detector) DetectAsync(ctx context.Context, text string) <-chan SensitivityResult {
	out := make(chan SensitivityResult, 1)
	threshold := d.AsyncThresholdBytes
	if threshold <= 0 {
		threshold = DefaultDetectOffloadBytes
	}
	if len(text) <= threshold {
		out <- d.Detect(text)
		close(out)
		return out
	}
	go func() {
		defer close(out)
		result := d.Detect(text)
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}()
	return out
}

// hasLuhnValidCard finds card-shaped digit runs and validates the checksum,
// so formatted numbers ("4532 0151 1283 0366") are caught while random
// digit strings are not.
func hasLuhnValidCard(text string) bool {
	for _, match := range cardDigitPattern.FindAllString(text, 8) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, match)
		if len(digits) < 13 || len(digits) > 19 {
			continue
		}
		if luhnValid(digits) {
			return true
		}
	}
	return false
}

func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// hasHighEntropyRun measures Shannon entropy over whitespace-delimited runs
// of printable characters. Ordinary prose never reaches the threshold
// because words are far shorter than the minimum run length.
func hasHighEntropyRun(text string) bool {
	for _, run := range strings.Fields(text) {
		if len(run) < entropyMinRunLength {
			continue
		}
		if shannonEntropy(run) >= entropyThreshold {
			return true
		}
	}
	return false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int, len(s))
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
