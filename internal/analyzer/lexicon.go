package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/negotiator/internal/model"
)

// normalize folds case and compatibility forms and collapses the text into
// space separated tokens padded with one space on each side, so phrases can
// be matched on word boundaries with strings.Contains(" "+phrase+" ").
func normalize(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, "'")
	}
	return " " + strings.Join(tokens, " ") + " "
}

// countHits returns how many of the phrases occur in normalized text.
func countHits(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += strings.Count(text, " "+p+" ")
	}
	return n
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, " "+p+" ") {
			return true
		}
	}
	return false
}

// stageKeywords are checked in priority order against the latest messages.
var stageKeywords = []struct {
	stage    model.Stage
	keywords []string
}{
	{model.StageFailed, []string{"not interested", "no thanks", "no thank you", "decline", "declining", "pass on this", "not a fit", "unsubscribe", "not a good fit"}},
	{model.StageCompleted, []string{"signed", "contract signed", "payment received", "invoice sent", "deal is done", "all set", "looking forward to working together"}},
	{model.StageFinalAgreement, []string{"contract", "agreement", "final terms", "sign", "deal", "agreed", "we have a deal", "confirm the terms"}},
	{model.StageConditionNegotiation, []string{"rate", "rates", "price", "pricing", "budget", "fee", "cost", "deliverables", "usage rights", "timeline", "counter", "offer"}},
	{model.StageInterestConfirmation, []string{"interested", "sounds good", "tell me more", "love to", "happy to", "would like", "more details", "open to"}},
}

var positiveWords = []string{
	"great", "love", "excited", "happy", "thanks", "thank", "perfect", "awesome", "interested",
	"glad", "amazing", "excellent", "wonderful", "good", "yes", "sure", "fantastic", "appreciate",
}

var negativeWords = []string{
	"not", "no", "unfortunately", "expensive", "disappointed", "concern", "concerned", "busy",
	"decline", "sorry", "problem", "unhappy", "bad", "cannot", "can't", "won't", "low", "too",
}

var concernLabels = []struct {
	label    string
	keywords []string
}{
	{"budget", []string{"price", "rate", "rates", "budget", "expensive", "fee", "cost", "too low", "pay"}},
	{"timeline", []string{"deadline", "timeline", "busy", "schedule", "date", "turnaround"}},
	{"usage_rights", []string{"usage", "rights", "license", "licensing", "exclusivity", "exclusive", "whitelisting"}},
	{"deliverables", []string{"deliverables", "posts", "videos", "stories", "reels", "revisions"}},
	{"payment_terms", []string{"payment", "invoice", "upfront", "deposit", "net 30"}},
}

var packageTerms = []string{"package", "bundle", "long term", "ongoing", "multiple", "series", "ambassador"}

var urgencyTerms = []string{"asap", "urgent", "urgently", "deadline", "this week", "soon", "quickly", "right away"}

var formalTerms = []string{"dear", "regards", "sincerely", "kind regards", "best regards", "respectfully"}

var priceTerms = []string{"price", "rate", "rates", "budget", "expensive", "fee", "cost", "too low", "more money", "higher"}

var competitorTerms = []string{"another brand", "other brand", "competitor", "competing offer", "another offer", "other offer", "better offer"}

var amountPattern = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)(?:\s?([kK])\b)?`)

// extractAmount returns the last dollar amount mentioned in s, or 0.
func extractAmount(s string) float64 {
	matches := amountPattern.FindAllStringSubmatch(norm.NFKC.String(s), -1)
	if len(matches) == 0 {
		return 0
	}
	m := matches[len(matches)-1]
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	if m[2] != "" {
		v *= 1000
	}
	return v
}

// sentimentScore is the lexicon balance (pos-neg)/(pos+neg) of one message,
// or 0 when no lexicon word occurs.
func sentimentScore(text string) float64 {
	pos := countHits(text, positiveWords)
	neg := countHits(text, negativeWords)
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
