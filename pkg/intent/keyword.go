package intent

import (
	"context"
	"regexp"
	"strings"
)

// domainVocabulary matches questions about the supported domains. One
// compiled pattern keeps the scan cost flat regardless of vocabulary
// size.
var domainVocabulary = []string{
	// HR / employees
	`employee`, `staff`, `worker`, `salary`, `salaries`, `hire`,
	`designation`, `manager`, `department`, `dept`,
	// attendance / leave
	`attendance`, `present`, `absent`, `late`, `check.?in`, `check.?out`,
	`leave`, `sick`, `casual`, `annual`, `maternity`, `half.?day`,
	`hours.?worked`,
	// inventory / suppliers
	`inventory`, `stock`, `material`, `raw.?material`, `fabric`,
	`supplier`, `reorder`, `quantity`, `cost.?per.?unit`,
	// products / production
	`product`, `production`, `manufacturing`, `order`,
	`target.?quantity`, `completed`, `stitching`, `cutting`,
	`product.?code`, `category`,
	// sales
	`sale`, `sales`, `revenue`, `customer`, `total.?amount`,
	`selling.?price`,
	// generic read operations
	`count`, `average`, `sum`, `total`, `maximum`, `minimum`,
	`highest`, `lowest`, `top`, `bottom`, `list`, `show`, `display`,
	`report`, `how many`, `which`,
}

// Keyword is the first-layer classifier: a cheap scan that accepts on
// any domain vocabulary hit and otherwise defers. It never rejects, so
// a miss costs one LLM call rather than a blocked user.
type Keyword struct {
	pattern *regexp.Regexp
}

// NewKeyword builds the keyword strategy. Extra terms (typically the
// table identifiers of the loaded schema) extend the built-in
// vocabulary.
func NewKeyword(extraTerms ...string) *Keyword {
	terms := make([]string, 0, len(domainVocabulary)+len(extraTerms))
	terms = append(terms, domainVocabulary...)
	for _, t := range extraTerms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, regexp.QuoteMeta(strings.ToLower(t)))
		}
	}

	return &Keyword{
		pattern: regexp.MustCompile(`(?i)` + strings.Join(terms, "|")),
	}
}

func (k *Keyword) Classify(ctx context.Context, question string) (Decision, error) {
	if k.pattern.MatchString(question) {
		return DecisionAccept, nil
	}
	return DecisionUnknown, nil
}
