package cache

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"rsbridge/internal/config"
	"rsbridge/internal/lexer"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

// keyDomain versions the key derivation; bump it when the inputs change.
const keyDomain = "rsbridge/cache-key/v2"

// Key derives the content address of a build. Equivalent sources (modulo
// line endings, trailing whitespace and Unicode composition outside string
// and char literals) under the same configuration and toolchain map to the
// same key in every process.
func Key(text string, cfg config.BuildConfig, toolchain string) project.Digest {
	return project.SumParts(keyDomain, canonicalSource(text), cfg.Canonical(), toolchain)
}

// SourceDigest hashes the canonical source alone.
func SourceDigest(text string) project.Digest {
	return project.Sum([]byte(canonicalSource(text)))
}

// ConfigDigest hashes the canonical configuration alone.
func ConfigDigest(cfg config.BuildConfig) project.Digest {
	return project.Sum([]byte(cfg.Canonical()))
}

// canonicalSource folds BOM and CRLF, then trims trailing whitespace and
// applies NFC only between literals. Literal bytes are observable at run
// time and are kept as written.
func canonicalSource(text string) string {
	text = source.Normalize(text)
	toks, _ := lexer.Tokenize(text)

	var b strings.Builder
	b.Grow(len(text))
	var off uint32
	for _, tok := range toks {
		if tok.Kind != token.StringLit && tok.Kind != token.CharLit {
			continue
		}
		writeCode(&b, text[off:tok.Span.Start], false)
		b.WriteString(text[tok.Span.Start:tok.Span.End])
		off = tok.Span.End
	}
	writeCode(&b, text[off:], true)
	return b.String()
}

// writeCode writes a stretch of code between literals. Whitespace before a
// newline is dropped; the last stretch also loses trailing blank lines.
func writeCode(b *strings.Builder, code string, last bool) {
	lines := strings.Split(code, "\n")
	for i := range len(lines) - 1 {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	code = strings.Join(lines, "\n")
	if last {
		code = strings.TrimRight(code, " \t\n")
	}
	b.WriteString(norm.NFC.String(code))
}
