// Package ircfmt translates IRC mIRC-style formatting control bytes into a
// plain-text body plus an XHTML-IM span tree, following the state machine
// in biboumi's original colors.cpp: walk the string segment by segment,
// re-deriving the complete set of active styles at every control byte and
// re-opening a single flat span rather than trying to keep a consistent
// tag hierarchy (IRC formatting is not well-nested, XML is).
package ircfmt

import (
	"strings"
)

const (
	boldChar      = '\x02'
	colorChar     = '\x03'
	resetChar     = '\x0F'
	fixedChar     = '\x11'
	reverseChar   = '\x12'
	reverse2Char  = '\x16'
	italicChar    = '\x1D'
	underlineChar = '\x1F'
)

var ircColorsToCSS = [16]string{
	"white", "black", "blue", "green", "indianred", "red", "magenta", "brown",
	"yellow", "lightgreen", "cyan", "lightcyan", "lightblue", "lightmagenta",
	"gray", "white",
}

func isFormatChar(b byte) bool {
	switch b {
	case boldChar, colorChar, resetChar, fixedChar, reverseChar, reverse2Char, italicChar, underlineChar, '\n':
		return true
	}
	return false
}

type styles struct {
	strong, underline, italic bool
	fg, bg                    int // -1 means unset
}

func (s styles) cssString() string {
	var b strings.Builder
	if s.strong {
		b.WriteString("font-weight:bold;")
	}
	if s.underline {
		b.WriteString("text-decoration:underline;")
	}
	if s.italic {
		b.WriteString("font-style:italic;")
	}
	if s.fg != -1 {
		b.WriteString("color:")
		b.WriteString(ircColorsToCSS[s.fg%16])
		b.WriteByte(';')
	}
	if s.bg != -1 {
		b.WriteString("background-color:")
		b.WriteString(ircColorsToCSS[s.bg%16])
		b.WriteByte(';')
	}
	return b.String()
}

// ToXHTMLIM converts an IRC-formatted string into its plain-text form and,
// if any formatting control bytes were present, an XHTML-IM
// "<body xmlns='...'>...</body>" fragment. xhtml is empty when the input
// carries no formatting at all.
func ToXHTMLIM(s string) (clean string, xhtml string) {
	if !strings.ContainsAny(s, "\x02\x03\x0F\x11\x12\x16\x1D\x1F\n") {
		return s, ""
	}

	var cleaned strings.Builder
	var body strings.Builder
	st := styles{fg: -1, bg: -1}
	spanOpen := false

	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && !isFormatChar(s[i]) {
			i++
		}
		txt := s[start:i]
		cleaned.WriteString(txt)
		body.WriteString(escapeXML(txt))

		if i >= len(s) {
			break
		}

		c := s[i]
		switch c {
		case boldChar:
			st.strong = !st.strong
			i++
		case underlineChar:
			st.underline = !st.underline
			i++
		case italicChar:
			st.italic = !st.italic
			i++
		case resetChar:
			st = styles{fg: -1, bg: -1}
			i++
		case reverseChar, reverse2Char, fixedChar:
			i++ // unhandled, matches the original's TODO
		case '\n':
			if spanOpen {
				body.WriteString("</span>")
				spanOpen = false
			}
			body.WriteString("<br/>")
			cleaned.WriteByte('\n')
			i++
			if css := st.cssString(); css != "" {
				body.WriteString("<span style='")
				body.WriteString(css)
				body.WriteString("'>")
				spanOpen = true
			}
			continue
		case colorChar:
			i++
			st.fg, st.bg = -1, -1
			fg, n := readDigits(s, i, 2)
			i += n
			if n > 0 {
				st.fg = fg
			}
			if i < len(s) && s[i] == ',' {
				save := i
				bg, n2 := readDigits(s, i+1, 2)
				if n2 > 0 {
					st.bg = bg
					i += 1 + n2
				} else {
					i = save
				}
			}
		}

		if spanOpen {
			body.WriteString("</span>")
			spanOpen = false
		}
		if css := st.cssString(); css != "" {
			body.WriteString("<span style='")
			body.WriteString(css)
			body.WriteString("'>")
			spanOpen = true
		}
	}

	if spanOpen {
		body.WriteString("</span>")
	}

	var out strings.Builder
	out.WriteString("<body xmlns='http://www.w3.org/1999/xhtml'>")
	out.WriteString(body.String())
	out.WriteString("</body>")
	return cleaned.String(), out.String()
}

func readDigits(s string, pos int, max int) (int, int) {
	n := 0
	count := 0
	for count < max && pos+count < len(s) && s[pos+count] >= '0' && s[pos+count] <= '9' {
		n = n*10 + int(s[pos+count]-'0')
		count++
	}
	return n, count
}

func escapeXML(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '\'':
			b.WriteString("&apos;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripFormatting removes all mIRC control bytes, returning plain text
// only; used where the XHTML-IM alternative body is not desired.
func StripFormatting(s string) string {
	clean, _ := ToXHTMLIM(s)
	return clean
}
