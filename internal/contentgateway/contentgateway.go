// Package contentgateway implements the layered scan that runs over tool
// output and response text before it reaches the transcript or the model:
// path-candidate substring matching against the sensitive-path policy,
// secret-pattern matching, and a fingerprint cache that skips re-scanning
// content already classified this epoch.
//
// This is the Go analog of codex-rs's content_gateway.rs.
package contentgateway

import (
	"context"
	"crypto/sha256"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sensitivepath"
)

// ScanLayer identifies which stage of the gateway produced a decision.
type ScanLayer int

const (
	L1PathProvenance ScanLayer = iota
	L2ContentScan
	L3FingerprintCache
	L4FullPayloadScan
)

func (l ScanLayer) String() string {
	switch l {
	case L1PathProvenance:
		return "l1_path_provenance"
	case L2ContentScan:
		return "l2_content_scan"
	case L3FingerprintCache:
		return "l3_fingerprint_cache"
	case L4FullPayloadScan:
		return "l4_full_payload_scan"
	default:
		return "unknown"
	}
}

// RedactionReason explains why a ScanReport is non-safe.
type RedactionReason int

const (
	ReasonFingerprintCache RedactionReason = iota
	ReasonIgnoredPath
	ReasonSecretPattern
)

func (r RedactionReason) String() string {
	switch r {
	case ReasonFingerprintCache:
		return "fingerprint_cache"
	case ReasonIgnoredPath:
		return "ignored_path"
	case ReasonSecretPattern:
		return "secret_pattern"
	default:
		return "unknown"
	}
}

// ScanReport summarizes what a scan found and did.
type ScanReport struct {
	Layers   []ScanLayer
	Redacted bool
	Blocked  bool
	Reasons  []RedactionReason
}

func safeReport() ScanReport { return ScanReport{} }

// fingerprint is a truncated SHA-256 digest used as a cache key. Matching
// the original's 16-byte (128-bit) prefix keeps collision risk negligible
// while letting the cache key be a plain comparable array.
type fingerprint [16]byte

func contentFingerprint(text string) fingerprint {
	sum := sha256.Sum256([]byte(text))
	var fp fingerprint
	copy(fp[:], sum[:16])
	return fp
}

type cachedDecision int

const (
	cachedSafe cachedDecision = iota
	cachedRedacted
	cachedBlocked
)

// Cache holds the L3 fingerprint-cache state. It resets whenever the
// supplied epoch changes, so callers don't need to invalidate it manually —
// passing sensitivepath.Policy.IgnoreEpoch() as the epoch is enough.
type Cache struct {
	mu        sync.Mutex
	epoch     uint64
	decisions map[fingerprint]cachedDecision
}

// NewCache constructs an empty fingerprint cache.
func NewCache() *Cache {
	return &Cache{decisions: make(map[fingerprint]cachedDecision)}
}

func (c *Cache) getOrResetEpoch(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.epoch = epoch
		c.decisions = make(map[fingerprint]cachedDecision)
	}
}

func (c *Cache) lookup(fp fingerprint) (cachedDecision, bool) {
	d, ok := c.decisions[fp]
	return d, ok
}

func (c *Cache) store(fp fingerprint, d cachedDecision) {
	c.decisions[fp] = d
	c.mu.Unlock()
}

func (c *Cache) abort() {
	c.mu.Unlock()
}

var rePathlike = regexp.MustCompile(
	// Windows drive-letter path, UNC path, or a relative/repo-like path
	// (optionally ./ ../ prefixed, repeatable).
	`(?:[A-Za-z]:[\\/][A-Za-z0-9._-]+(?:[\\/][A-Za-z0-9._-]+)*)` +
		`|(?:\\\\[A-Za-z0-9._-]+[\\/][A-Za-z0-9._-]+(?:[\\/][A-Za-z0-9._-]+)*)` +
		`|(?:(?:\.{1,2}[\\/])*(?:\.[A-Za-z0-9._-]+|[A-Za-z0-9._-]+(?:[\\/][A-Za-z0-9._-]+)+))`,
)

// builtinSecretPatterns mirrors the original's RE_SECRET_PATTERNS_BUILTIN
// exactly: AWS access key id, GitHub classic PAT, PEM private key headers,
// and a generic key=value secret label.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`),
	regexp.MustCompile(`-----BEGIN[ A-Z0-9_-]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\b(password|secret|api[_-]?key|token)\b\s*[:=]\s*\S+`),
}

// Gateway applies the configured layers to text.
type Gateway struct {
	cfg                config.ContentGatewayConfig
	secretPatterns     []*regexp.Regexp
	secretBlocklist    []*regexp.Regexp
	log                *observability.Logger
}

// New builds a Gateway from config, compiling the allowlist/blocklist
// regexes once. Invalid user-supplied patterns are logged and skipped
// rather than failing construction.
func New(cfg config.ContentGatewayConfig, log *observability.Logger) *Gateway {
	patterns := []*regexp.Regexp{}
	if cfg.SecretPatternsBuiltin {
		patterns = append(patterns, builtinSecretPatterns...)
	}
	patterns = append(patterns, compilePatterns(cfg.SecretPatternsAllowlist, "allowlist", log)...)
	blocklist := compilePatterns(cfg.SecretPatternsBlocklist, "blocklist", log)

	return &Gateway{
		cfg:             cfg,
		secretPatterns:  patterns,
		secretBlocklist: blocklist,
		log:             log,
	}
}

func compilePatterns(patterns []string, label string, log *observability.Logger) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			if log != nil {
				log.Warn(context.Background(), "secret pattern ignored (invalid regex)", "pattern", p, "label", label, "error", err)
			}
			continue
		}
		out = append(out, re)
	}
	return out
}

// ScanText runs the layered scan over text, returning the (possibly
// redacted/blocked) text and a report describing what happened.
func (g *Gateway) ScanText(text string, policy *sensitivepath.Policy, cache *Cache, epoch uint64) (string, ScanReport) {
	if text == "" {
		return "", safeReport()
	}
	if !g.cfg.Enabled {
		return text, safeReport()
	}

	if g.cfg.ContentHashing && cache != nil {
		fp := contentFingerprint(text)
		cache.getOrResetEpoch(epoch)
		if decision, ok := cache.lookup(fp); ok {
			cache.abort()
			switch decision {
			case cachedSafe:
				return text, safeReport()
			case cachedRedacted:
				return "[REDACTED]", ScanReport{
					Layers:   []ScanLayer{L3FingerprintCache},
					Redacted: true,
					Reasons:  []RedactionReason{ReasonFingerprintCache},
				}
			case cachedBlocked:
				return "[BLOCKED]", ScanReport{
					Layers:  []ScanLayer{L3FingerprintCache},
					Blocked: true,
					Reasons: []RedactionReason{ReasonFingerprintCache},
				}
			}
		}
		cache.abort()
	}

	out := text
	report := safeReport()

	if g.cfg.SubstringMatching || g.cfg.SecretPatterns {
		next, r := g.l2ScanAndRedact(out, policy)
		out = next
		report.Layers = append(report.Layers, r.Layers...)
		report.Redacted = report.Redacted || r.Redacted
		report.Blocked = report.Blocked || r.Blocked
		report.Reasons = append(report.Reasons, r.Reasons...)
	}

	if g.cfg.ContentHashing && cache != nil {
		decision := cachedSafe
		switch {
		case report.Blocked:
			decision = cachedBlocked
		case report.Redacted:
			decision = cachedRedacted
		}
		fp := contentFingerprint(text)
		cache.getOrResetEpoch(epoch)
		cache.store(fp, decision)
	}

	if (report.Redacted || report.Blocked) && g.cfg.LogRedactions && g.log != nil {
		g.log.Warn(context.Background(), "sensitive content gateway applied",
			"redacted", report.Redacted, "blocked", report.Blocked, "layers", layerNames(report.Layers))
	}

	return out, report
}

func layerNames(layers []ScanLayer) []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.String()
	}
	return names
}

func (g *Gateway) l2ScanAndRedact(text string, policy *sensitivepath.Policy) (string, ScanReport) {
	report := safeReport()
	out := text

	matchedAny := false
	matchedPath := false
	matchedSecret := false

	if g.cfg.SubstringMatching {
		for _, candidate := range pathlikeCandidatesInText(text) {
			if isCandidateIgnored(candidate, policy) {
				matchedAny = true
				matchedPath = true
				if g.cfg.OnMatch == "redact" {
					out = strings.ReplaceAll(out, candidate, "[IGNORED-PATH: redacted]")
				}
			}
		}
	}

	if g.cfg.SecretPatterns {
		for _, re := range g.secretPatterns {
			hasUnblocked := false
			for _, m := range re.FindAllString(out, -1) {
				if !g.isBlocklisted(m) {
					hasUnblocked = true
					break
				}
			}
			if hasUnblocked {
				matchedAny = true
				matchedSecret = true
				if g.cfg.OnMatch == "redact" {
					out = re.ReplaceAllStringFunc(out, func(m string) string {
						if g.isBlocklisted(m) {
							return m
						}
						return "[REDACTED]"
					})
				}
			}
		}
	}

	if matchedAny {
		report.Layers = append(report.Layers, L2ContentScan)
		if matchedPath {
			report.Reasons = append(report.Reasons, ReasonIgnoredPath)
		}
		if matchedSecret {
			report.Reasons = append(report.Reasons, ReasonSecretPattern)
		}
		switch g.cfg.OnMatch {
		case "warn":
			// report only
		case "block":
			out = "[BLOCKED]"
			report.Blocked = true
		default: // "redact"
			report.Redacted = true
		}
	}

	return out, report
}

func (g *Gateway) isBlocklisted(candidate string) bool {
	for _, re := range g.secretBlocklist {
		if re.MatchString(candidate) {
			return true
		}
	}
	return false
}

func pathlikeCandidatesInText(text string) []string {
	return rePathlike.FindAllString(text, -1)
}

func isCandidateIgnored(candidate string, policy *sensitivepath.Policy) bool {
	if strings.Contains(candidate, "://") {
		return false
	}
	for _, variant := range normalizedCandidateVariants(candidate) {
		relative := strings.TrimPrefix(variant, "/")
		if relative == "" {
			continue
		}
		if policy.DecisionSendRelative(relative, nil) == sensitivepath.Deny {
			return true
		}
	}
	return false
}

// normalizedCandidateVariants mirrors the original's variant expansion:
// backslash-to-slash normalization, repeated "./"/"../" stripping, and
// drive-letter/UNC server-share stripping, so a path mentioned in several
// equivalent forms is still checked against the repo-relative policy.
func normalizedCandidateVariants(candidate string) []string {
	normalized := strings.ReplaceAll(candidate, `\`, "/")
	var out []string

	pushUnique := func(c string) {
		if c == "" {
			return
		}
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}

	stripRelative := func(c string) string {
		for {
			if rest, ok := strings.CutPrefix(c, "./"); ok {
				c = rest
				continue
			}
			if rest, ok := strings.CutPrefix(c, "../"); ok {
				c = rest
				continue
			}
			break
		}
		return c
	}

	pushUnique(normalized)
	pushUnique(stripRelative(normalized))

	if len(normalized) >= 3 && isASCIILetter(normalized[0]) && normalized[1] == ':' && normalized[2] == '/' {
		pushUnique(stripRelative(normalized[3:]))
	}

	if rest, ok := strings.CutPrefix(normalized, "//"); ok {
		pushUnique(stripRelative(rest))
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) == 3 {
			pushUnique(stripRelative(parts[2]))
		}
	}

	return out
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
