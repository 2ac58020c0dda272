// Package media classifies files found in an exported archive. Filename
// sniffing is inherently best-effort, so the heuristics live behind a single
// matcher chain that callers treat as one interface; individual matchers can
// be replaced without touching the processor.
package media

import (
	"path"
	"strings"

	"github.com/vaultis/vaultis/internal/model"
)

// Candidate is one file to classify.
type Candidate struct {
	FileName string
	Index    int
}

// Matcher attempts to classify a candidate. The second return is false when
// the matcher has no opinion and the chain should fall through.
type Matcher interface {
	Match(c Candidate) (model.MediaType, bool)
}

// Chain tries each matcher in priority order.
type Chain []Matcher

// Classify runs the chain and falls back to MediaTypeOther.
func (ch Chain) Classify(c Candidate) model.MediaType {
	for _, m := range ch {
		if t, ok := m.Match(c); ok {
			return t
		}
	}
	return model.MediaTypeOther
}

// DefaultChain is the priority order from strongest to weakest signal:
// exact stored filename, fuzzy basename, keyword heuristic, positional
// fallback.
func DefaultChain(knownNames map[string]model.MediaType) Chain {
	return Chain{
		ExactNameMatcher{Names: knownNames},
		FuzzyBasenameMatcher{Names: knownNames},
		KeywordMatcher{},
		PositionalMatcher{},
	}
}

// ExactNameMatcher matches the stored filename byte-for-byte.
type ExactNameMatcher struct {
	Names map[string]model.MediaType
}

func (m ExactNameMatcher) Match(c Candidate) (model.MediaType, bool) {
	t, ok := m.Names[c.FileName]
	return t, ok
}

// FuzzyBasenameMatcher matches a stored name against the candidate's
// basename with the extension stripped, case-insensitively.
type FuzzyBasenameMatcher struct {
	Names map[string]model.MediaType
}

func (m FuzzyBasenameMatcher) Match(c Candidate) (model.MediaType, bool) {
	base := strings.ToLower(stripExt(path.Base(c.FileName)))
	for name, t := range m.Names {
		if strings.ToLower(stripExt(path.Base(name))) == base {
			return t, true
		}
	}
	return "", false
}

// KeywordMatcher sniffs well-known substrings out of export filenames.
type KeywordMatcher struct{}

func (KeywordMatcher) Match(c Candidate) (model.MediaType, bool) {
	name := strings.ToLower(c.FileName)
	switch {
	case strings.Contains(name, "profile") || strings.Contains(name, "avatar"):
		return model.MediaTypeProfile, true
	case strings.Contains(name, "cover") || strings.Contains(name, "banner") || strings.Contains(name, "header"):
		return model.MediaTypeCover, true
	}
	return "", false
}

// PositionalMatcher is the last resort: exports conventionally place the
// profile image first.
type PositionalMatcher struct{}

func (PositionalMatcher) Match(c Candidate) (model.MediaType, bool) {
	if c.Index == 0 {
		return model.MediaTypeProfile, true
	}
	return "", false
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
