// Package render turns a stored greeting template into the final message
// body for one contact. Rendering is total: any input produces output and
// unrecognized tokens are left as literal text.
package render

import (
	"html"
	"regexp"
	"strconv"
	"time"
)

// Contact carries the attributes a template can reference.
type Contact struct {
	FirstName string
	LastName  string
	Birthday  time.Time
}

// value selectors for the token table
const (
	fieldFirst = iota
	fieldLast
	fieldFull
	fieldAge
)

type token struct {
	re    *regexp.Regexp
	field int
}

// Both bracket and brace token forms are recognized, case-insensitively.
var tokens = []token{
	{regexp.MustCompile(`(?i)\[FirstName\]`), fieldFirst},
	{regexp.MustCompile(`(?i)\[LastName\]`), fieldLast},
	{regexp.MustCompile(`(?i)\[Name\]`), fieldFull},
	{regexp.MustCompile(`(?i)\[Age\]`), fieldAge},
	{regexp.MustCompile(`(?i)\{first_name\}`), fieldFirst},
	{regexp.MustCompile(`(?i)\{firstname\}`), fieldFirst},
	{regexp.MustCompile(`(?i)\{last_name\}`), fieldLast},
	{regexp.MustCompile(`(?i)\{lastname\}`), fieldLast},
	{regexp.MustCompile(`(?i)\{name\}`), fieldFull},
	{regexp.MustCompile(`(?i)\{full_name\}`), fieldFull},
	{regexp.MustCompile(`(?i)\{fullname\}`), fieldFull},
	{regexp.MustCompile(`(?i)\{age\}`), fieldAge},
}

// Age computes the contact's age on the given date: the year difference,
// minus one if the birthday has not yet occurred that year.
func Age(birthday, on time.Time) int {
	age := on.Year() - birthday.Year()
	if on.Month() < birthday.Month() ||
		(on.Month() == birthday.Month() && on.Day() < birthday.Day()) {
		age--
	}
	return age
}

// Render substitutes every occurrence of every recognized token in the
// template. escapeHTML must be true for the email channel: contact-derived
// values are inserted into content the recipient's client renders as HTML,
// so they are entity-escaped. SMS is plain text and inserts values verbatim.
func Render(template string, c Contact, on time.Time, escapeHTML bool) string {
	first := c.FirstName
	last := c.LastName
	if escapeHTML {
		first = html.EscapeString(first)
		last = html.EscapeString(last)
	}

	full := first
	if last != "" {
		full = first + " " + last
	}
	age := strconv.Itoa(Age(c.Birthday, on))

	out := template
	for _, t := range tokens {
		var value string
		switch t.field {
		case fieldFirst:
			value = first
		case fieldLast:
			value = last
		case fieldFull:
			value = full
		case fieldAge:
			value = age
		}
		out = t.re.ReplaceAllLiteralString(out, value)
	}

	return out
}
