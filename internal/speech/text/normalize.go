// Package text normalises a user's script before it reaches the speech engine.
package text

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// MaxNumberForWords is the largest integer spelled out in words.
	MaxNumberForWords = 999999
)

// Regex patterns for text normalisation.
const (
	urlRegexPattern          = `https?://\S+`
	emailRegexPattern        = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern       = `\b\d+(?:\.\d+)?\b`
	abbreviationRegexPattern = `\b(Mrs|Mr|Ms|Dr|Co|Ltd|Corp|Inc)\.`
	saintStreetRegexPattern  = `\bSt\.(\s+\p{Lu})?`
	whitespaceRegexPattern   = `\s+`
)

// Patterns for preserving URLs and emails.
const (
	urlPlaceholderPattern   = `__URL_PLACEHOLDER_%d__`
	emailPlaceholderPattern = `__EMAIL_PLACEHOLDER_%d__`
)

// Punctuation constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Normalizer rewrites free text into a form the speech engine reads aloud cleanly.
type Normalizer struct {
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	numberPattern       *regexp.Regexp
	whitespacePattern   *regexp.Regexp
	abbreviationPattern *regexp.Regexp
	saintStreetPattern  *regexp.Regexp
	abbreviations       map[string]string
	punctuationReplacer *strings.Replacer
	numbers             *numberConverter
}

// NewNormalizer creates a Normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:          regexp.MustCompile(urlRegexPattern),
		emailPattern:        regexp.MustCompile(emailRegexPattern),
		numberPattern:       regexp.MustCompile(numberRegexPattern),
		whitespacePattern:   regexp.MustCompile(whitespaceRegexPattern),
		abbreviationPattern: regexp.MustCompile(abbreviationRegexPattern),
		saintStreetPattern:  regexp.MustCompile(saintStreetRegexPattern),
		abbreviations: map[string]string{
			"Mr":   "Mister",
			"Mrs":  "Misses",
			"Ms":   "Miss",
			"Dr":   "Doctor",
			"Co":   "Company",
			"Ltd":  "Limited",
			"Corp": "Corporation",
			"Inc":  "Incorporated",
		},
		punctuationReplacer: strings.NewReplacer(
			emDash, ", ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		numbers: newNumberConverter(),
	}
}

// Normalize expands abbreviations and numbers, folds typographic punctuation,
// collapses whitespace and guarantees a sentence-ending mark.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, placeholders := n.preserveTokens(text)

	normalized := n.expandAbbreviations(preserved)
	normalized = n.numberPattern.ReplaceAllStringFunc(normalized, n.spellNumber)
	normalized = n.punctuationReplacer.Replace(normalized)
	normalized = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(normalized, " "))

	restored := restoreTokens(normalized, placeholders)

	return ensureSentenceEnding(restored)
}

// expandAbbreviations rewrites abbreviations that start a word. "St." reads as
// "Saint" before a capitalised name and as "Street" otherwise.
func (n *Normalizer) expandAbbreviations(text string) string {
	expanded := n.abbreviationPattern.ReplaceAllStringFunc(text, func(match string) string {
		return n.abbreviations[strings.TrimSuffix(match, ".")]
	})

	return n.saintStreetPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		if name := strings.TrimPrefix(match, "St."); name != "" {
			return "Saint" + name
		}

		return "Street"
	})
}

// spellNumber reads an integer or decimal token aloud. Fraction digits are read
// one at a time: "3.14" becomes "three point one four".
func (n *Normalizer) spellNumber(token string) string {
	whole, fraction, hasFraction := strings.Cut(token, ".")

	value, err := strconv.Atoi(whole)
	if err != nil {
		return token
	}

	words := n.numbers.toWords(value)
	if !hasFraction {
		return words
	}

	digits := make([]string, 0, len(fraction))
	for _, digit := range fraction {
		digits = append(digits, n.numbers.digit(int(digit-'0')))
	}

	return words + " point " + strings.Join(digits, " ")
}

// preserveTokens replaces URLs and emails with placeholders so number and
// abbreviation rewriting leaves them intact.
func (n *Normalizer) preserveTokens(text string) (string, map[string]string) {
	placeholders := make(map[string]string)
	counter := 0
	processed := text

	replace := func(pattern *regexp.Regexp, placeholderFormat string) {
		processed = pattern.ReplaceAllStringFunc(processed, func(match string) string {
			placeholder := fmt.Sprintf(placeholderFormat, counter)
			placeholders[placeholder] = match
			counter++

			return placeholder
		})
	}

	replace(n.urlPattern, urlPlaceholderPattern)
	replace(n.emailPattern, emailPlaceholderPattern)

	return processed, placeholders
}

func restoreTokens(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch {
	case lastChar == '.', lastChar == '!', lastChar == '?':
		return text
	case unicode.IsPunct(lastChar) && lastChar != '"' && lastChar != '\'' && lastChar != ')':
		return strings.TrimRightFunc(text, unicode.IsPunct) + "."
	default:
		return text + "."
	}
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) digit(num int) string {
	if num == 0 {
		return "zero"
	}

	return nc.ones[num]
}

func (nc *numberConverter) underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return nc.ones[num]
	case num < numberBaseTwenty:
		return nc.teens[num-numberBaseTen]
	}

	result := nc.tens[num/numberBaseTen]
	if num%numberBaseTen > 0 {
		result += " " + nc.ones[num%numberBaseTen]
	}

	return result
}

func (nc *numberConverter) underThousand(num int) string {
	if num < numberBaseHundred {
		return nc.underHundred(num)
	}

	result := nc.ones[num/numberBaseHundred] + " hundred"
	if remainder := num % numberBaseHundred; remainder > 0 {
		result += " " + nc.underHundred(remainder)
	}

	return result
}

func (nc *numberConverter) toWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, nc.underThousand(thousands)+" thousand")
	}

	if remainder := number % numberBaseThousand; remainder > 0 {
		parts = append(parts, nc.underThousand(remainder))
	}

	return strings.Join(parts, " ")
}
