package preprocessor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opsagent/signalops/pkg/signal"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s<>"'),]+`)
	mentionPattern = regexp.MustCompile(`@[a-zA-Z0-9_\-.]+`)

	fileRefPattern = regexp.MustCompile(`(?i)\b[\w\-]+\.(pdf|docx?|xlsx?|pptx?|csv|txt|png|jpe?g|zip)\b`)

	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	writtenDatePattern = regexp.MustCompile(`(?i)\b(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+(\d{1,2}),?\s+(\d{4})\b`)
	relativeDatePattern = regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|next week|last week|next month|EOD|COB)\b`)

	timePattern = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm|AM|PM)?\b`)

	moneyPrefixedPattern = regexp.MustCompile(`([$€£¥])\s?(\d[\d,]*(?:\.\d{1,2})?)`)
	moneySuffixedPattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d{1,2})?)\s?(USD|EUR|GBP|JPY|INR)`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

// extractStructuredData fills the spec.md §4.8 stage 4 ExtractedData bag.
func extractStructuredData(body string) signal.ExtractedData {
	data := signal.ExtractedData{
		Emails:       dedupe(emailPattern.FindAllString(body, -1)),
		PhoneNumbers: dedupe(phonePattern.FindAllString(body, -1)),
		URLs:         dedupe(urlPattern.FindAllString(body, -1)),
		FileRefs:     dedupe(fileRefPattern.FindAllString(body, -1)),
		Mentions:     dedupe(mentionPattern.FindAllString(body, -1)),
	}

	data.Dates = extractDates(body)
	data.Times = extractTimes(body)
	data.MonetaryAmounts = extractMoney(body)
	return data
}

func extractDates(body string) []string {
	var out []string
	out = append(out, isoDatePattern.FindAllString(body, -1)...)

	for _, m := range slashDatePattern.FindAllStringSubmatch(body, -1) {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		out = append(out, fmt.Sprintf("%04d-%02d-%02d", year, month, day))
	}

	for _, m := range writtenDatePattern.FindAllStringSubmatch(body, -1) {
		key := strings.ToLower(m[1])[:3]
		month, ok := monthIndex[key]
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		out = append(out, fmt.Sprintf("%04d-%02d-%02d", year, int(month), day))
	}

	now := time.Now()
	for _, m := range relativeDatePattern.FindAllString(body, -1) {
		switch strings.ToLower(m) {
		case "today", "eod", "cob":
			out = append(out, now.Format("2006-01-02"))
		case "tomorrow":
			out = append(out, now.AddDate(0, 0, 1).Format("2006-01-02"))
		case "yesterday":
			out = append(out, now.AddDate(0, 0, -1).Format("2006-01-02"))
		case "next week":
			out = append(out, now.AddDate(0, 0, 7).Format("2006-01-02"))
		case "last week":
			out = append(out, now.AddDate(0, 0, -7).Format("2006-01-02"))
		case "next month":
			out = append(out, now.AddDate(0, 1, 0).Format("2006-01-02"))
		}
	}
	return out
}

func extractTimes(body string) []string {
	var out []string
	for _, m := range timePattern.FindAllStringSubmatch(body, -1) {
		out = append(out, strings.TrimSpace(m[0]))
	}
	for _, m := range relativeDatePattern.FindAllString(body, -1) {
		// EOD/COB normalize to 17:00 local of the current day (spec.md §4.8).
		if strings.EqualFold(m, "EOD") || strings.EqualFold(m, "COB") {
			out = append(out, "17:00")
		}
	}
	return out
}

func extractMoney(body string) []signal.MonetaryAmount {
	var out []signal.MonetaryAmount
	for _, m := range moneyPrefixedPattern.FindAllStringSubmatch(body, -1) {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		out = append(out, signal.MonetaryAmount{Amount: amount, Currency: currencySymbols[m[1]], Raw: m[0]})
	}
	for _, m := range moneySuffixedPattern.FindAllStringSubmatch(body, -1) {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		out = append(out, signal.MonetaryAmount{Amount: amount, Currency: strings.ToUpper(m[2]), Raw: m[0]})
	}
	return out
}
