// Package ticketcode derives the human-readable codes printed on queue
// tickets, such as EX-N01: a prefix taken from the procedure name, a letter
// for the priority class, and a per-day sequence number.
package ticketcode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"clinicq/internal/models"
)

var typePrefixes = map[string]string{
	models.TypeNormal:       "N",
	models.TypePreferential: "P",
	models.TypeSenior:       "ID",
	models.TypeScheduled:    "AG",
}

// TypePrefix returns the fixed code prefix for a ticket type.
func TypePrefix(ticketType string) (string, bool) {
	prefix, ok := typePrefixes[ticketType]
	return prefix, ok
}

// ProcedurePrefix derives a short prefix from a procedure display name.
// Single-word names use the first two letters; multi-word names use the
// initials of up to three significant words. Connective particles of two
// letters or fewer ("de", "da", "e") are skipped so that "Exame de Sangue"
// yields ES, not EDS. Only letters survive into the prefix; the hyphen in
// "X-Ray" must not collide with the code separator.
func ProcedurePrefix(name string) string {
	var words []string
	for _, word := range strings.Fields(name) {
		if cleaned := letters(word); cleaned != "" {
			words = append(words, cleaned)
		}
	}
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return upperPrefix(words[0], 2)
	}

	var initials []rune
	for _, word := range words {
		runes := []rune(word)
		if len(runes) <= 2 {
			continue
		}
		initials = append(initials, unicode.ToUpper(runes[0]))
		if len(initials) == 3 {
			break
		}
	}
	if len(initials) == 0 {
		return upperPrefix(words[0], 2)
	}
	return string(initials)
}

func letters(word string) string {
	var runes []rune
	for _, r := range word {
		if unicode.IsLetter(r) {
			runes = append(runes, r)
		}
	}
	return string(runes)
}

func upperPrefix(word string, n int) string {
	runes := []rune(word)
	if len(runes) > n {
		runes = runes[:n]
	}
	return strings.ToUpper(string(runes))
}

// Disambiguate returns the prefix candidate for the given attempt: the base
// prefix first, then X, Y, Z suffixes, then numeric suffixes 2, 3, 4, ...
func Disambiguate(base string, attempt int) string {
	switch {
	case attempt <= 0:
		return base
	case attempt == 1:
		return base + "X"
	case attempt == 2:
		return base + "Y"
	case attempt == 3:
		return base + "Z"
	default:
		return base + strconv.Itoa(attempt-2)
	}
}

// Combine joins a procedure prefix and type prefix into the code prefix all
// sequence numbers for that scope share.
func Combine(procedurePrefix, typePrefix string) string {
	return procedurePrefix + "-" + typePrefix
}

// Format appends the sequence number, zero-padded to two digits. Sequences
// of 100 and above simply take more digits.
func Format(combined string, sequence int) string {
	return fmt.Sprintf("%s%02d", combined, sequence)
}

// ParseSequence extracts the sequence number from a code that carries the
// given combined prefix. Returns false for codes in another scope.
func ParseSequence(code, combined string) (int, bool) {
	rest, ok := strings.CutPrefix(code, combined)
	if !ok || rest == "" {
		return 0, false
	}
	sequence, err := strconv.Atoi(rest)
	if err != nil || sequence < 0 {
		return 0, false
	}
	return sequence, true
}

// DayStart returns midnight of t's calendar day in the clinic time zone.
// Code sequences and queue reads are scoped to this boundary, not to UTC.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayKey is the lock and log key for a clinic-local calendar day.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
