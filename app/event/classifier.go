package event

import (
	"strings"
)

type tagRule struct {
	tag      Tag
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var classifierRules = []tagRule{
	{TagRequired, []string{"required", "mandatory", "attendance", "must attend", "compulsory"}},
	{TagCareer, []string{"career", "job", "recruiting", "interview", "resume", "networking", "employer"}},
	{TagCapstone, []string{"capstone", "thesis", "research", "advisor", "committee", "defense"}},
	{TagDeadline, []string{"deadline", "due", "submission", "final date"}},
	{TagSocial, []string{"social", "party", "gathering", "hangout", "celebration", "mixer"}},
}

// ClassifyTag assigns a category from keyword containment in the title and
// description. Matching is a case-insensitive substring test.
func ClassifyTag(title, description string) Tag {
	text := strings.ToLower(title + " " + description)

	for _, rule := range classifierRules {
		if containsAny(text, rule.keywords) {
			return rule.tag
		}
	}

	return TagGeneral
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
