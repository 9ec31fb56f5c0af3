package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/go-scrape-cars/models"
)

var (
	reDigits     = regexp.MustCompile(`\d+`)
	reWhitespace = regexp.MustCompile(`\s+`)
	reMileage    = regexp.MustCompile(`(?i)\b(\d{1,3}(?:[ .\x{00a0}]\d{3})+|\d{2,7})\s*km\b`)
	reYear       = regexp.MustCompile(`\b(19[89]\d|20[0-4]\d)\b`)
)

// MaxDescriptionRunes caps stored descriptions.
const MaxDescriptionRunes = 200

// ValidateListing ensures an adapter captured the required fields.
func ValidateListing(l *models.Listing) error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("listing missing title")
	}
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("listing missing url for %s", l.Title)
	}
	if l.Price <= models.MinValidPrice {
		return fmt.Errorf("listing %s price %d not above %d", l.URL, l.Price, models.MinValidPrice)
	}
	return nil
}

// ExtractPrice returns the integer price carried by v. Numbers are truncated,
// text yields its leading digit run after thousand separators (spaces, commas)
// are removed, and anything without digits yields 0.
func ExtractPrice(v any) int {
	return extractPrice(v, false)
}

// ExtractPriceLoose is ExtractPrice that also treats dots as thousand separators,
// for catalogs that print prices like "12.500 €".
func ExtractPriceLoose(v any) int {
	return extractPrice(v, true)
}

func extractPrice(v any, dotsAreSeparators bool) int {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return truncate(float64(n))
	case float64:
		return truncate(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return truncate(f)
		}
		return leadingNumber(n.String(), dotsAreSeparators)
	case string:
		return leadingNumber(n, dotsAreSeparators)
	case fmt.Stringer:
		return leadingNumber(n.String(), dotsAreSeparators)
	default:
		return leadingNumber(fmt.Sprint(v), dotsAreSeparators)
	}
}

func truncate(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}

func leadingNumber(text string, dotsAreSeparators bool) int {
	replacer := []string{" ", "", "\u00a0", "", ",", ""}
	if dotsAreSeparators {
		replacer = append(replacer, ".", "")
	}
	cleaned := strings.NewReplacer(replacer...).Replace(text)
	match := reDigits.FindString(cleaned)
	if match == "" {
		return 0
	}
	value, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return value
}

// NormalizeText collapses whitespace runs and trims the result.
func NormalizeText(text string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

// TruncateDescription normalizes text and caps it at MaxDescriptionRunes.
func TruncateDescription(text string) string {
	text = NormalizeText(text)
	if utf8.RuneCountInString(text) <= MaxDescriptionRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxDescriptionRunes])
}

// ExtractMileage finds the first "<number> km" figure in text.
func ExtractMileage(text string) int {
	match := reMileage.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0
	}
	return leadingNumber(strings.ReplaceAll(match[1], ".", ""), false)
}

// ExtractYear finds the first plausible model year in text.
func ExtractYear(text string) int {
	match := reYear.FindString(text)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}
