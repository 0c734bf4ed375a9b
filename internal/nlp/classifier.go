package nlp

// Result is the classifier's verdict on one command.
type Result struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Parameters   map[string]string `json:"parameters"`
	OriginalText string            `json:"originalText"`
}

// Classifier matches commands against the phrase-pattern table. It is
// stateless and safe for concurrent use.
type Classifier struct {
	patterns []pattern
}

func NewClassifier() *Classifier {
	return &Classifier{patterns: compiledPatterns}
}

// Parse classifies text. Confidence is the fraction of input tokens the
// winning phrase consumed; no phrase matching at all yields intent
// "unknown" with confidence 0.
func (c *Classifier) Parse(text string) Result {
	result := Result{
		Intent:       IntentUnknown,
		Parameters:   map[string]string{},
		OriginalText: text,
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return result
	}

	best, found := c.bestMatch(tokens)
	if !found {
		return result
	}

	params := make(map[string]string, len(best.captured)+len(best.pat.params))
	for k, v := range best.pat.params {
		params[k] = v
	}
	for k, v := range best.captured {
		params[k] = v
	}

	result.Intent = best.pat.intent
	result.Confidence = float64(best.consumed) / float64(len(tokens))
	result.Parameters = refineParameters(best.pat.intent, params, tokens, text)
	return result
}

type candidate struct {
	pat      *pattern
	captured map[string]string
	consumed int
}

// bestMatch tries every pattern at every offset. Preference order: most
// tokens consumed, then most literal tokens (a phrase naming "pin" beats
// a catch-all), then table order.
func (c *Classifier) bestMatch(tokens []string) (candidate, bool) {
	var best candidate
	found := false

	for i := range c.patterns {
		pat := &c.patterns[i]
		for offset := 0; offset <= len(tokens)-len(pat.elements); offset++ {
			captured, consumed, ok := pat.matchAt(tokens, offset)
			if !ok {
				continue
			}
			cand := candidate{pat: pat, captured: captured, consumed: consumed}
			if !found || better(cand, best) {
				best = cand
				found = true
			}
			break // earliest offset for this pattern is enough
		}
	}
	return best, found
}

func better(a, b candidate) bool {
	if a.consumed != b.consumed {
		return a.consumed > b.consumed
	}
	if a.pat.literals != b.pat.literals {
		return a.pat.literals > b.pat.literals
	}
	return a.pat.order < b.pat.order
}

var contextReferences = []string{
	// pronouns
	"it", "that", "this", "them", "they",
	// relative references
	"same", "similar", "different", "another", "other",
	// temporal references
	"again",
}

// ReferencesContext reports whether the text leans on earlier conversation
// state, like "play it again" or "turn that off".
func ReferencesContext(text string) bool {
	for _, tok := range Tokenize(text) {
		if contains(contextReferences, tok) {
			return true
		}
	}
	return false
}

// IsContextWord reports whether s is nothing but context references
// ("it", "that", "it again"), useful for scrubbing pronouns captured as
// parameter values.
func IsContextWord(s string) bool {
	tokens := Tokenize(s)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !contains(contextReferences, tok) {
			return false
		}
	}
	return true
}

// RelativeVolume reports a volume command with a direction but no level,
// like "louder". The caller resolves the actual level from session state.
func RelativeVolume(r Result) (string, bool) {
	if r.Intent != IntentControlVolume {
		return "", false
	}
	if _, hasLevel := r.Parameters["level"]; hasLevel {
		return "", false
	}
	dir := r.Parameters["direction"]
	if dir != "up" && dir != "down" {
		return "", false
	}
	return dir, true
}

// Intents returns the reserved intent names for discovery surfaces.
func Intents() []string {
	return []string{
		IntentPlayMusic,
		IntentControlVolume,
		IntentSwitchAudio,
		IntentSystemControl,
		IntentHardwareControl,
		IntentHomeControl,
		IntentDownload,
	}
}

// PatternsByIntent lists the declared phrases per intent, used by the
// maestro://intents resource and the command_help prompt.
func PatternsByIntent() map[string][]string {
	out := make(map[string][]string)
	for _, spec := range patternTable {
		out[spec.intent] = append(out[spec.intent], spec.text)
	}
	return out
}
