package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults for HeuristicExtractor.
const (
	DefaultDelimiter         = "\n\n"
	DefaultMinChunkLength    = 20
	DefaultMaxMessages       = 200
	DefaultFingerprintLength = 100
)

// DefaultSpeakerPattern matches a capitalised name phrase followed by a clock
// time or a calendar date, e.g. "Jane Doe 10:42 AM" or "Dr. Smith - 03/04/2024".
var DefaultSpeakerPattern = regexp.MustCompile(
	`(?m)^\s*[A-Z][\w.'-]*(?:\s+[A-Z][\w.'-]*){0,4}\s*[-,:|·]?\s*` +
		`(?:\d{1,2}:\d{2}(?:\s?[AaPp][Mm])?|\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|` +
		`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:,\s*\d{4})?)`,
)

// DefaultNoise lists UI artefacts removed from message chunks.
var DefaultNoise = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpage\s+\d+\s+of\s+\d+\b`),
	regexp.MustCompile(`(?i)\b(?:previous|next)\s+page\b`),
	regexp.MustCompile(`(?i)\bload\s+(?:more|earlier)\s+messages\b`),
	regexp.MustCompile(`(?i)\b(?:reply|forward|print)\s*$`),
	regexp.MustCompile(`(?i)\bshowing\s+\d+\s*[-–]\s*\d+\s+of\s+\d+\b`),
}

var whitespace = regexp.MustCompile(`\s+`)

// HeuristicConfig tunes HeuristicExtractor; zero values take the defaults.
type HeuristicConfig struct {
	Delimiter         string
	MinChunkLength    int
	MaxMessages       int
	FingerprintLength int
	Speaker           *regexp.Regexp
	Noise             []*regexp.Regexp
}

// HeuristicExtractor splits page text into speaker-attributed chunks.
type HeuristicExtractor struct {
	cfg HeuristicConfig
}

// NewHeuristicExtractor applies defaults to cfg.
func NewHeuristicExtractor(cfg HeuristicConfig) *HeuristicExtractor {
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.MinChunkLength <= 0 {
		cfg.MinChunkLength = DefaultMinChunkLength
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.FingerprintLength <= 0 {
		cfg.FingerprintLength = DefaultFingerprintLength
	}
	if cfg.Speaker == nil {
		cfg.Speaker = DefaultSpeakerPattern
	}
	if cfg.Noise == nil {
		cfg.Noise = DefaultNoise
	}
	return &HeuristicExtractor{cfg: cfg}
}

// Extract returns at most MaxMessages chunks in page order, de-duplicated by
// fingerprint with the first occurrence kept.
func (h *HeuristicExtractor) Extract(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(text, h.cfg.Delimiter) {
		chunk := strings.TrimSpace(raw)
		if utf8.RuneCountInString(chunk) < h.cfg.MinChunkLength {
			continue
		}
		if !h.cfg.Speaker.MatchString(chunk) {
			continue
		}
		chunk = h.strip(chunk)
		if chunk == "" {
			continue
		}
		fp := Fingerprint(chunk, h.cfg.FingerprintLength)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, chunk)
		if len(out) == h.cfg.MaxMessages {
			break
		}
	}
	return out
}

func (h *HeuristicExtractor) strip(chunk string) string {
	lines := strings.Split(chunk, "\n")
	kept := lines[:0]
	for _, line := range lines {
		for _, re := range h.cfg.Noise {
			line = re.ReplaceAllString(line, "")
		}
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Fingerprint collapses whitespace and keeps the first n runes.
func Fingerprint(chunk string, n int) string {
	collapsed := whitespace.ReplaceAllString(strings.TrimSpace(chunk), " ")
	if n <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}
