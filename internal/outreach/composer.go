package outreach

import (
	"bytes"
	"math"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/negotiator/internal/model"
)

// Composer writes the next message of a negotiation.
type Composer interface {
	Compose(state *model.ThreadState, analysis *model.Analysis, strategy *model.OptimizedStrategy, settings *model.CompanySettings) (string, error)
}

var openings = map[string]string{
	"friendly":     "Thanks so much for getting back to us.",
	"professional": "Thank you for your reply.",
	"casual":       "Thanks for the note!",
	"enthusiastic": "We're really excited about this!",
	"empathetic":   "Thanks for being open with us, we hear your concerns.",
	"balanced":     "Thanks for your message.",
}

var greetings = map[string]string{
	"casual":       "Hey",
	"professional": "Hello",
	"balanced":     "Hello",
}

const messageTemplate = `{{.Greeting}},

{{.Opening}}
{{range .Points}}
- {{.}}{{end}}
{{if gt .Offer 0.0}}
We'd like to propose {{printf "$%.0f" .Offer}} for this collaboration.
{{end}}
{{.Closing}}

{{.Signature}}
`

type messageData struct {
	Greeting  string
	Opening   string
	Points    []string
	Offer     float64
	Closing   string
	Signature string
}

// TemplateComposer renders messages from a fixed template.
type TemplateComposer struct {
	tmpl *template.Template
}

// NewTemplateComposer parses the message template.
func NewTemplateComposer() *TemplateComposer {
	return &TemplateComposer{tmpl: template.Must(template.New("message").Parse(messageTemplate))}
}

// Compose implements Composer.
func (c *TemplateComposer) Compose(state *model.ThreadState, analysis *model.Analysis, strategy *model.OptimizedStrategy, settings *model.CompanySettings) (string, error) {
	if strategy == nil {
		return "", eris.New("outreach: compose without strategy")
	}
	if settings == nil {
		settings = &model.CompanySettings{}
	}

	tone := strategy.Tone
	data := messageData{
		Greeting:  "Hi",
		Opening:   openings["balanced"],
		Closing:   closingFor(state),
		Signature: signature(settings),
	}
	if g, ok := greetings[tone]; ok {
		data.Greeting = g
	}
	if o, ok := openings[tone]; ok {
		data.Opening = o
	}

	if analysis != nil {
		data.Points = append(data.Points, analysis.Strategy.KeyMessages...)
	}
	data.Points = append(data.Points, strategy.Base.KeyPhrases...)
	data.Points = dedupe(data.Points, 4)

	if state != nil && (state.Stage == model.StageConditionNegotiation || state.Stage == model.StageFinalAgreement) {
		requested := state.Terms.RequestedAmount
		if analysis != nil && analysis.Context.RequestedAmount > 0 {
			requested = analysis.Context.RequestedAmount
		}
		data.Offer = OfferAmount(settings, requested, strategy.BudgetApproach)
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", eris.Wrap(err, "outreach: render message")
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// OfferAmount is the amount to propose for the budget approach. It never
// exceeds the company budget ceiling and is 0 when no budget is known.
func OfferAmount(settings *model.CompanySettings, requested float64, approach string) float64 {
	target := settings.TargetAmount
	if target <= 0 {
		target = settings.Budget().Midpoint()
	}
	if target <= 0 {
		return 0
	}
	ceiling := settings.BudgetMax
	if ceiling <= 0 {
		ceiling = target
	}

	var offer float64
	switch approach {
	case model.BudgetFlexible:
		if requested > 0 {
			offer = requested
		} else {
			offer = target * 1.1
		}
	case model.BudgetModerate:
		if requested > target {
			offer = (target + requested) / 2
		} else {
			offer = target
		}
	default:
		offer = target
	}
	if requested > 0 && offer > requested {
		offer = requested
	}
	return math.Round(math.Min(offer, ceiling))
}

func closingFor(state *model.ThreadState) string {
	if state == nil {
		return "Looking forward to hearing from you."
	}
	switch state.Stage {
	case model.StageInitialContact:
		return "Would you be open to a quick chat about it?"
	case model.StageFinalAgreement:
		return "If this works for you, we'll send the contract over today."
	default:
		return "Looking forward to hearing from you."
	}
}

func signature(s *model.CompanySettings) string {
	switch {
	case s.SenderName != "" && s.CompanyName != "":
		return s.SenderName + "\n" + s.CompanyName
	case s.CompanyName != "":
		return "The " + s.CompanyName + " team"
	case s.SenderName != "":
		return s.SenderName
	default:
		return "Best regards"
	}
}

func dedupe(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
		if len(out) == max {
			break
		}
	}
	return out
}
