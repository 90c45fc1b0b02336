// Package safety is the static gate between LLM-generated text and the
// database. It rejects anything that is not a single read-only statement,
// no matter how the input was produced.
package safety

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
)

// DefaultRowCap is appended as a LIMIT when the statement has none.
const DefaultRowCap = 500

// Mutating or structural keywords that never appear in a read.
var blockedKeywords = []string{
	"DROP", "ALTER", "DELETE", "INSERT", "UPDATE", "TRUNCATE",
	"GRANT", "REVOKE", "CREATE", "MERGE", "EXECUTE", "CALL",
}

// SafeSQL is a statement that passed validation. Only values of this
// type reach the executor.
type SafeSQL struct {
	stmt          string
	limitInjected bool
}

// Statement returns the executable SQL text.
func (s SafeSQL) Statement() string { return s.stmt }

// LimitInjected reports whether the row cap was added by the validator.
func (s SafeSQL) LimitInjected() bool { return s.limitInjected }

type Validator struct {
	rowCap int
}

type Option func(*Validator)

// WithRowCap overrides the injected LIMIT value.
func WithRowCap(n int) Option {
	return func(v *Validator) {
		v.rowCap = n
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{rowCap: DefaultRowCap}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the safety rules in fixed order; the first violation
// wins. On success the statement is returned with a LIMIT injected when
// it had none.
func (v *Validator) Validate(raw string) (SafeSQL, error) {
	scan, scanErr := scan(raw)

	// 1. Blocked keywords outside string and comment literals. Checked
	// over everything scanned even when the scan itself failed, so a
	// mutating keyword is always reported as such.
	for _, word := range scan.words {
		for _, blocked := range blockedKeywords {
			if word.upper == blocked {
				return SafeSQL{}, unsafe(fmt.Sprintf("forbidden keyword: %s", blocked))
			}
		}
	}
	if scanErr != nil {
		return SafeSQL{}, unsafe(scanErr.Error())
	}

	// 2. A bare separator outside literals means multiple statements.
	if scan.separators > 0 {
		return SafeSQL{}, unsafe("multiple statements are not allowed")
	}

	// 3. Parentheses must balance (scan already catches early closes).
	if scan.depth != 0 {
		return SafeSQL{}, unsafe("unbalanced parentheses")
	}

	// 4. The root clause must be a read.
	if len(scan.words) == 0 {
		return SafeSQL{}, unsafe("statement is empty")
	}
	if first := scan.words[0].upper; first != "SELECT" && first != "WITH" {
		return SafeSQL{}, unsafe(fmt.Sprintf("statement root is %s, not a read", first))
	}

	// 5. Accept; bound the result size when the statement does not.
	// The scanner already dropped trailing comments and the terminating
	// semicolon, so the appended LIMIT cannot end up inside a comment.
	if scan.hasTopLevelLimit() {
		return SafeSQL{stmt: scan.stmt}, nil
	}
	return SafeSQL{
		stmt:          fmt.Sprintf("%s LIMIT %d", scan.stmt, v.rowCap),
		limitInjected: true,
	}, nil
}

func unsafe(reason string) error {
	return goerr.Wrap(model.ErrUnsafeSQL, reason, goerr.V("rule", reason))
}

type word struct {
	upper string
	depth int
}

type scanResult struct {
	words      []word
	depth      int
	separators int    // bare ';' with statement content after it
	stmt       string // the statement without trailing comments or ';'
}

func (r *scanResult) hasTopLevelLimit() bool {
	for _, w := range r.words {
		if w.depth == 0 && w.upper == "LIMIT" {
			return true
		}
	}
	return false
}

// scan walks the statement once, skipping single-quoted and
// double-quoted strings (with doubled-quote escapes), backtick
// identifiers, line comments and block comments, and records the word
// tokens with their parenthesis depth. The returned result always holds
// whatever was scanned before an error, so callers can inspect the
// words even when the scan fails.
func scan(raw string) (*scanResult, error) {
	res := &scanResult{}
	runes := []rune(raw)

	var wordStart = -1
	flush := func(end int) {
		if wordStart >= 0 {
			res.words = append(res.words, word{
				upper: strings.ToUpper(string(runes[wordStart:end])),
				depth: res.depth,
			})
			wordStart = -1
		}
	}

	// end is the index just past the last rune that belongs to the
	// statement proper. Comments and ';' never advance it, so runes[:end]
	// is the statement text without its trailing decoration.
	var end int
	var semis []int

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case c == '\'' || c == '"' || c == '`':
			flush(i)
			quote := c
			i++
			for i < len(runes) {
				if runes[i] == quote {
					if quote != '`' && i+1 < len(runes) && runes[i+1] == quote {
						i += 2 // doubled quote inside the literal
						continue
					}
					break
				}
				i++
			}
			if i >= len(runes) {
				return res, fmt.Errorf("unterminated string literal")
			}
			end = i + 1

		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush(i)
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush(i)
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 >= len(runes) {
				return res, fmt.Errorf("unterminated block comment")
			}
			i++ // skip the closing '/'

		case c == '(':
			flush(i)
			res.depth++
			end = i + 1

		case c == ')':
			flush(i)
			res.depth--
			if res.depth < 0 {
				return res, fmt.Errorf("unbalanced parentheses")
			}
			end = i + 1

		case c == ';':
			flush(i)
			if res.depth == 0 {
				semis = append(semis, i)
			}

		case isWordRune(c):
			if wordStart < 0 {
				wordStart = i
			}
			end = i + 1

		default:
			flush(i)
			if !unicode.IsSpace(c) {
				end = i + 1
			}
		}
	}
	flush(len(runes))

	// A ';' separates statements only when statement content follows it;
	// trailing comments after the terminator are harmless.
	for _, p := range semis {
		if p < end {
			res.separators++
		}
	}

	res.stmt = strings.TrimSpace(string(runes[:end]))
	return res, nil
}

func isWordRune(c rune) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
