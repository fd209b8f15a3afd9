package detect

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/whisper/modbot/internal/report"
)

// Abuse type labels used by the rules. They match the report menu.
const (
	abuseHarassment = "harassment or bullying"
	abuseScam       = "misleading content or scams"
	abuseThreat     = "threatening or blackmailing"
)

var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains with a
	// path. The trailing "/" keeps version strings like "v2.0" clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches +1-555-123-4567, (555) 123-4567, 555.123.4567.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// ruleFunc inspects a lowercased message and returns zero or more findings.
type ruleFunc func(text, lower string) []Finding

// RuleScorer is the default Scorer. It runs a fixed set of pattern rules and
// combines their confidences as independent signals.
type RuleScorer struct {
	rules []ruleFunc
}

// NewRuleScorer returns a RuleScorer loaded with the default rule set.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{rules: []ruleFunc{
		ruleImpersonation,
		ruleCredentialBait,
		ruleThreats,
		ruleLinks,
		rulePhone,
		ruleFlood,
	}}
}

// Score implements Scorer.
func (s *RuleScorer) Score(_ context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)

	var findings []Finding
	for _, r := range s.rules {
		findings = append(findings, r(text, lower)...)
	}
	if findings == nil {
		findings = []Finding{}
	}

	// 1 - prod(1 - c) stays within [0,1] however many rules fire.
	miss := 1.0
	var strongest Finding
	for _, f := range findings {
		miss *= 1 - f.Confidence
		if f.Confidence > strongest.Confidence {
			strongest = f
		}
	}

	return &Result{
		Confidence: clamp(1 - miss),
		AbuseType:  strongest.AbuseType,
		Findings:   findings,
	}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// phraseRule builds a rule that reports every phrase found in the message.
func phraseRule(rule, abuseType string, confidence float64, phrases []string) ruleFunc {
	return func(_, lower string) []Finding {
		var findings []Finding
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				findings = append(findings, Finding{
					Rule:        rule,
					Description: "Message contains phrase: " + p,
					AbuseType:   abuseType,
					Confidence:  confidence,
				})
			}
		}
		return findings
	}
}

// Claims of an identity or role the author likely does not hold.
var ruleImpersonation = phraseRule("impersonation_claim", report.AbuseImpersonation, 0.45, []string{
	"i am the real", "i'm the real", "this is my new account", "my old account got",
	"official support", "i'm an admin", "i am an admin", "i am a moderator", "i'm a moderator",
	"from the staff team", "on behalf of the server",
})

var ruleCredentialBait = phraseRule("credential_bait", abuseScam, 0.4, []string{
	"password", "login code", "verification code", "2fa code", "gift card",
	"verify your account", "send me your", "free nitro", "claim your prize",
})

var ruleThreats = phraseRule("threat", abuseThreat, 0.6, []string{
	"i know where you live", "kill you", "leak your", "or else", "you'll regret",
})

func ruleLinks(text, _ string) []Finding {
	if !urlPattern.MatchString(text) {
		return nil
	}
	return []Finding{{
		Rule:        "url",
		Description: "Message contains a link",
		AbuseType:   abuseScam,
		Confidence:  0.2,
	}}
}

func rulePhone(text, _ string) []Finding {
	if !phonePattern.MatchString(text) {
		return nil
	}
	return []Finding{{
		Rule:        "phone",
		Description: "Message contains a phone number",
		AbuseType:   abuseScam,
		Confidence:  0.15,
	}}
}

func ruleFlood(text, _ string) []Finding {
	var findings []Finding
	if hasCharFlood(text) {
		findings = append(findings, Finding{
			Rule:        "char_flood",
			Description: "Character flooding detected",
			AbuseType:   abuseHarassment,
			Confidence:  0.1,
		})
	}
	if hasWordFlood(text) {
		findings = append(findings, Finding{
			Rule:        "word_flood",
			Description: "Repeated word flooding detected",
			AbuseType:   abuseHarassment,
			Confidence:  0.1,
		})
	}
	return findings
}

// hasCharFlood returns true if text contains 5 or more consecutive identical
// characters. RE2 has no backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 3 or more times in a
// row, case-insensitively.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
