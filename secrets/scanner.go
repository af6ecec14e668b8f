// Package secrets scans staged file contents for credential material.
// It is the one gate with no appeal path: a match blocks the commit
// outright, with no approval flow and no network calls. There is
// nothing to approve about a key that is already in the index.
package secrets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
)

// maxScanBytes caps per-file scanning so a huge staged blob cannot
// stall the commit. Credentials live near the top of real files.
const maxScanBytes = 1 << 20

// StagedReader is the slice of gitx the scanner needs.
type StagedReader interface {
	StagedFiles(ctx context.Context) ([]string, error)
	StagedContent(ctx context.Context, path string) ([]byte, error)
}

// Finding is one credential hit. Snippet is redacted; the secret
// itself never appears in output or logs.
type Finding struct {
	Path    string
	Line    int
	Rule    string
	Snippet string
}

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d: %s (%s)", f.Path, f.Line, f.Rule, f.Snippet)
	}
	return fmt.Sprintf("%s: %s", f.Path, f.Rule)
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// builtinRules covers the credential formats worth blocking on sight.
// Anchored wordish boundaries keep hash-looking identifiers from
// tripping them.
var builtinRules = []rule{
	{"aws-access-key-id", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws-secret-access-key", regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?[0-9A-Za-z/+=]{40}`)},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36,}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`)},
	{"stripe-key", regexp.MustCompile(`\bsk_live_[0-9a-zA-Z]{24,}\b`)},
	{"openai-key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}T3BlbkFJ[A-Za-z0-9]{20,}\b`)},
	{"google-api-key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	{"private-key-header", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"generic-credential-assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|api[_-]?secret|auth[_-]?token|access[_-]?token|secret[_-]?key|client[_-]?secret)\b\s*[:=]\s*['"][^'"\s]{16,}['"]`)},
}

// sensitiveNames match against the staged path's base name. A hit
// blocks regardless of content; these files have no business in a
// commit at all.
var sensitiveNames = []string{
	".env",
	".env.*",
	"credentials",
	".git-credentials",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	"*.pem",
	"*.p12",
	"*.pfx",
}

// Scanner holds the compiled rule set for one hook invocation.
type Scanner struct {
	rules     []rule
	filenames []glob.Glob
	logger    *telemetry.Logger
}

// NewScanner compiles the built-in rules plus any extra patterns from
// the config. An invalid extra pattern is a config error, not a skip.
func NewScanner(cfg config.SecretsConfig, logger *telemetry.Logger) (*Scanner, error) {
	s := &Scanner{
		rules:  builtinRules,
		logger: logger,
	}

	for i, p := range cfg.ExtraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("secrets extra_patterns[%d]: %w", i, err)
		}
		s.rules = append(s.rules, rule{name: fmt.Sprintf("extra-pattern-%d", i), re: re})
	}

	for _, p := range sensitiveNames {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("secrets filename pattern %q: %w", p, err)
		}
		s.filenames = append(s.filenames, g)
	}

	return s, nil
}

// ScanStaged checks every staged file. Unreadable staged content is
// skipped, not fatal; the filename rules already fired by then.
func (s *Scanner) ScanStaged(ctx context.Context, git StagedReader) ([]Finding, error) {
	files, err := git.StagedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing staged files: %w", err)
	}

	var findings []Finding
	for _, f := range files {
		findings = append(findings, s.scanName(f)...)

		content, err := git.StagedContent(ctx, f)
		if err != nil {
			s.logger.WithContext(ctx).Debug().Str("path", f).Err(err).Msg("staged content unreadable, skipping")
			continue
		}
		findings = append(findings, s.ScanContent(f, content)...)
	}
	return findings, nil
}

// ScanContent runs the content rules over one file. Binary blobs are
// skipped; the filename rules are the only gate for those.
func (s *Scanner) ScanContent(p string, content []byte) []Finding {
	if len(content) > maxScanBytes {
		content = content[:maxScanBytes]
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return nil
	}

	var findings []Finding
	for i, line := range strings.Split(string(content), "\n") {
		// Escape hatch for fixtures and documentation examples.
		if strings.Contains(line, "vahti:allow") {
			continue
		}
		for _, r := range s.rules {
			m := r.re.FindString(line)
			if m == "" {
				continue
			}
			findings = append(findings, Finding{
				Path:    p,
				Line:    i + 1,
				Rule:    r.name,
				Snippet: redact(m),
			})
		}
	}
	return findings
}

func (s *Scanner) scanName(p string) []Finding {
	base := path.Base(p)
	for _, g := range s.filenames {
		if g.Match(base) {
			return []Finding{{Path: p, Rule: "sensitive-filename"}}
		}
	}
	return nil
}

// redact keeps just enough of the match to locate it in the file.
func redact(m string) string {
	const keep = 6
	if len(m) <= keep {
		return m
	}
	return m[:keep] + "..."
}
