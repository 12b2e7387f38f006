package advisor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// InvalidReplyError is a reply that failed validation. Prompt asks the user
// for the same field again.
type InvalidReplyError struct {
	Prompt string
}

func (e *InvalidReplyError) Error() string {
	return "invalid reply: " + e.Prompt
}

func invalid(prompt string) *InvalidReplyError {
	return &InvalidReplyError{Prompt: prompt}
}

var (
	ErrNameEmpty        = invalid("Name cannot be empty. Please provide your name:")
	ErrNameHasDigits    = invalid("Name should not contain numbers. Please provide a valid name:")
	ErrFamilyEmpty      = invalid("Please provide information about who you want to insure:")
	ErrFamilyUnparsed   = invalid("Could not understand who you want to insure. Please try again:")
	ErrAgesNotNumbers   = invalid("Ages must be numbers. Please provide ages as numbers separated by commas:")
	ErrAgesOutOfRange   = invalid("Please provide valid ages between 0 and 120:")
	ErrContactEmpty     = invalid("Contact information cannot be empty. Please provide your email or phone number:")
	ErrContactMalformed = invalid("Please provide a valid email address or phone number:")
)

// skipReplies end the preference questionnaire early.
var skipReplies = map[string]bool{
	"skip":                 true,
	"quit":                 true,
	"stop":                 true,
	"not interested":       true,
	"don't want to answer": true,
	"move on":              true,
	"don't care":           true,
	"irrelevant":           true,
	"not applicable":       true,
}

// IsSkipReply reports whether reply asks to skip the remaining preference questions.
func IsSkipReply(reply string) bool {
	return skipReplies[strings.ToLower(strings.TrimSpace(reply))]
}

// IsYes reports whether reply is a plain yes.
func IsYes(reply string) bool {
	return strings.ToLower(strings.TrimSpace(reply)) == "yes"
}

// ParseName validates a name reply.
func ParseName(reply string) (string, error) {
	name := strings.TrimSpace(reply)
	if name == "" {
		return "", ErrNameEmpty
	}
	if strings.IndexFunc(name, unicode.IsDigit) >= 0 {
		return "", ErrNameHasDigits
	}
	return name, nil
}

var familySeparator = regexp.MustCompile(`,|\band\b`)

// ParseFamilyMembers splits a household reply on commas and "and".
func ParseFamilyMembers(reply string) ([]string, error) {
	lower := strings.ToLower(strings.TrimSpace(reply))
	if lower == "" {
		return nil, ErrFamilyEmpty
	}
	var members []string
	for _, part := range familySeparator.Split(lower, -1) {
		if member := strings.TrimSpace(part); member != "" {
			members = append(members, member)
		}
	}
	if len(members) == 0 {
		return nil, ErrFamilyUnparsed
	}
	return members, nil
}

// ParseAges parses a comma separated age list. When want is positive the list
// must have exactly want entries.
func ParseAges(reply string, want int) ([]int, error) {
	var ages []int
	for _, part := range strings.Split(reply, ",") {
		age, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, ErrAgesNotNumbers
		}
		ages = append(ages, age)
	}
	if want > 0 && len(ages) != want {
		return nil, invalid(fmt.Sprintf("Please provide ages for all %d family members:", want))
	}
	for _, age := range ages {
		if age < 0 || age > maxAge {
			return nil, ErrAgesOutOfRange
		}
	}
	return ages, nil
}

// IsValidContact reports whether s looks like an email address or a phone number.
func IsValidContact(s string) bool {
	if strings.Contains(s, "@") && strings.Contains(s, ".") {
		return true
	}
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 10
}

// ParseContact validates a contact reply.
func ParseContact(reply string) (string, error) {
	contact := strings.TrimSpace(reply)
	if contact == "" {
		return "", ErrContactEmpty
	}
	if !IsValidContact(contact) {
		return "", ErrContactMalformed
	}
	return contact, nil
}

// ParseConditions splits a comma separated list of conditions.
func ParseConditions(reply string) []string {
	conditions := []string{}
	for _, part := range strings.Split(reply, ",") {
		if c := strings.TrimSpace(part); c != "" {
			conditions = append(conditions, c)
		}
	}
	return conditions
}
