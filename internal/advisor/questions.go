package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/util"
	"github.com/openai/openai-go"
)

// Bounds of the generated preference questionnaire.
const (
	MinPreferenceQuestions = 3
	MaxPreferenceQuestions = 5
)

// Onboarding prompts.
const (
	NamePrompt = "Before we take care of your health insurance, let's get to know you! 👋\n\nWhat should we call you?"

	FamilyPrompt = `Who would you like to include in your health insurance coverage? 🏥👨‍👩‍👧‍👦

For example:
- Just yourself
- You and your spouse
- Your parents
- Your entire family

How to enter your response:

Simply type the family members separated by commas, like:
"self, spouse, daughter"
or
"self, mother, father"
or just
"self"

Please list all family members you'd like to insure:`

	ContactPrompt = `To help us stay in touch, please share your preferred contact information:
- Email address, or
- Phone number

This helps us keep you updated about your insurance journey.`

	profileCompleteMessage = "Thanks for providing all the necessary information! We now have a good understanding of your profile and needs."

	nameFollowUp = "First things first - what's your name? This will help me personalize our conversation and tailor the recommendations specifically for you."
)

// AgePrompt asks for one age per listed family member.
func AgePrompt(family []string) string {
	if len(family) == 0 {
		return `Please provide your age:

How to enter:
Enter your age as a number. For example: "35"

Please enter your age now:`
	}
	return fmt.Sprintf(`Please provide the age for each family member you listed (%s):

How to enter:
Enter ages in the same order, separated by commas. For example:
"35, 32, 5"

Please enter the ages now:`, strings.Join(family, ", "))
}

// HasConditionsPrompt asks whether anyone to be insured has a pre-existing condition.
func HasConditionsPrompt(name string) string {
	return fmt.Sprintf(`Hey %s!

💡 Knowing about any pre-existing medical conditions in the family helps us recommend plans that offer the right benefits—like shorter waiting periods, better coverage, or specialized care.

For families with multiple members, it's important to choose insurance that fits everyone's health needs—whether it's for a child, parent, or senior.

👉 To make sure we get this right, could you let us know if you or any family members have any pre-existing medical conditions?
(Examples: diabetes, heart conditions, high blood pressure)

Just reply with yes or no.`, name)
}

// ConditionsPrompt asks for the list of pre-existing conditions.
func ConditionsPrompt(name string) string {
	thanks := "Thank you for sharing that"
	if name != "" {
		thanks += " " + name
	}
	return thanks + ` 💙 Understanding your specific health conditions helps us match you with insurance plans that offer the right support—like shorter waiting periods, specialized coverage, or chronic care benefits.

Could you please list the pre-existing conditions for yourself or any family members?
(Example: diabetes, high blood pressure, asthma)

👉 Just separate them with commas so we can guide you better.`
}

// NextProfileQuestion returns the question for the first missing onboarding
// field, or a closing remark when nothing is missing.
func NextProfileQuestion(p *models.UserProfile) string {
	switch {
	case p.Name == nil || *p.Name == "":
		return nameFollowUp
	case len(p.FamilyMembers) == 0:
		return FamilyPrompt
	case len(p.Age) == 0 || !p.HouseholdAligned():
		return AgePrompt(p.FamilyMembers)
	case p.HasPreExistingConditions == nil:
		return HasConditionsPrompt(p.DisplayName("there"))
	case *p.HasPreExistingConditions && len(p.PreExistingConditions) == 0:
		return ConditionsPrompt("")
	}
	return profileCompleteMessage
}

// CommonQuestions pad a short generated questionnaire.
var CommonQuestions = []string{
	"Are you someone who prefers the highest possible coverage, or do you prefer a balance between price and protection?",
	"What's more important to you — a cost-effective plan or one with a smoother claims experience?",
	"Do you have any other preferences or concerns that we should know about?",
}

var preferenceSchema = genai.Schema{
	Name:        "preference_questions",
	Description: "Personalised health insurance preference questions",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key_questions": map[string]interface{}{
				"type":     "array",
				"items":    map[string]interface{}{"type": "string"},
				"minItems": MinPreferenceQuestions,
				"maxItems": MaxPreferenceQuestions,
			},
		},
		"required": []string{"key_questions"},
	},
}

// QuestionGenerator writes the preference questionnaire.
type QuestionGenerator struct {
	llm genai.ClientInterface
}

// NewQuestionGenerator creates a QuestionGenerator.
func NewQuestionGenerator(llm genai.ClientInterface) *QuestionGenerator {
	return &QuestionGenerator{llm: llm}
}

// PreferenceQuestions returns 3 to 5 questions tailored to the profile. Short
// lists are padded with CommonQuestions and long ones truncated. When the
// model output cannot be decoded the common questions are used alone.
func (g *QuestionGenerator) PreferenceQuestions(ctx context.Context, p *models.UserProfile) ([]string, error) {
	conditions := "unknown"
	if p.HasPreExistingConditions != nil {
		conditions = strconv.FormatBool(*p.HasPreExistingConditions)
	}
	ages := make([]string, len(p.Age))
	for i, age := range p.Age {
		ages[i] = strconv.Itoa(age)
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(preferenceSystemPrompt),
		openai.UserMessage(fmt.Sprintf(preferenceUserTemplate,
			orNone(strings.Join(p.FamilyMembers, ", ")), orNone(strings.Join(ages, ", ")),
			conditions, orNone(strings.Join(p.PreExistingConditions, ", ")))),
	}

	var out struct {
		KeyQuestions []string `json:"key_questions"`
	}
	err := genai.GenerateStructured(ctx, g.llm, messages, preferenceSchema, &out)
	if err != nil && !errors.Is(err, genai.ErrSchemaValidation) {
		return nil, fmt.Errorf("generate preference questions: %w", err)
	}
	if err != nil {
		slog.Warn("QuestionGenerator.PreferenceQuestions: unusable output, using common questions", "error", err)
	}
	return normalizeQuestions(out.KeyQuestions), nil
}

func normalizeQuestions(generated []string) []string {
	var questions []string
	for _, q := range generated {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	for _, common := range CommonQuestions {
		if len(questions) >= MinPreferenceQuestions {
			break
		}
		questions = append(questions, common)
	}
	if len(questions) > MaxPreferenceQuestions {
		questions = questions[:MaxPreferenceQuestions]
	}
	return questions
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// Tips are shown once contact details are collected.
var Tips = []string{
	"💡 Buying health insurance at 25 can cost 50% less than at 40. Start early, save big.",
	"🛡️ A single hospital visit can cost more than 1 year of insurance premiums. Prevention pays.",
	"📲 Most modern insurers now offer cashless treatment through mobile apps—zero paperwork!",
	"📈 Each year you skip insurance, your premium rises. It's cheaper to start now.",
	"🏥 Not all hospital rooms are covered—room rent caps can cost you. Always check before admitting.",
	"👨‍👩‍👧‍👦 Family floater plans are perfect if everyone's healthy. Shared coverage = shared savings.",
	"🚨 Missed your policy renewal? You could lose lifetime benefits. Set that reminder!",
	"💰 You can save up to ₹75,000 in taxes (India) just by having health insurance under Section 80D.",
	"🎁 No-claim bonuses (NCB) can boost your coverage by 50% or more—just for staying healthy!",
	"🧘‍♂️ Mental health is now covered in many policies. Therapy, counseling, psychiatry—it's all in.",
	"🧾 Always ask for a detailed bill. Insurers need itemized invoices for smooth claim processing.",
	"👶 Maternity cover has a waiting period (2–4 years)—plan in advance if you're planning a family.",
	"⚖️ Co-pay means you split the bill. Go for policies with lower or zero co-pay.",
	"🎉 Some plans reward healthy habits like walking or gym visits. Earn wellness points = discounts!",
	"🌐 You can port your insurance plan if you're unhappy—just like switching SIM cards!",
	"🔐 Don't hide pre-existing conditions. Transparency = guaranteed claims in the future.",
	"💳 Always carry your e-health card. Emergencies don't wait for documents.",
	"💡 The earlier you buy, the shorter your waiting period ends. Time is coverage.",
	"🔍 A ₹10 lakh cover today might not be enough 10 years from now—revisit coverage annually.",
	"🛌 Sub-limits on surgeries, room rent, or ICU can ruin your finances. Read that fine print!",
	"🏆 Premium ≠ Best. Don't judge a plan just by price—benefits are what matter.",
	"🧑‍⚕️ Some policies now cover OPD visits, dental care, and alternative treatments like Ayurveda.",
	"👀 Many people never use insurance... but when you need it, it can save you ₹5L+ in one go.",
	"📆 Claim rejection is highest when people hide conditions or miss deadlines. Don't be that person.",
	"📝 You can buy insurance online in 10 mins. No agents, no delays, just peace of mind.",
	"🏃 Healthier you = lower risk profile = better premium offers. Stay fit, save money.",
	"💬 Some insurers offer WhatsApp support and instant claim updates. Customer service, upgraded!",
	"🔁 Even if you haven't claimed in years, insurance is your safety net. Don't drop it.",
	"🤖 AI is now used by insurers to settle claims faster. 2-min decisions are becoming real!",
	"🌍 Health insurance can cover international treatments too—if you choose global coverage.",
}

// RandomTip returns one of Tips.
func RandomTip() string {
	return util.PickRandom(Tips)
}
