package drivertest

import (
	"strings"
)

// matches reports whether el satisfies a CSS selector list. Only the subset
// the fake needs is understood: tag names, #id, .class, [attr], [attr=value],
// :not(...) and comma separated unions.
func matches(el *Element, selector string) bool {
	for _, part := range splitTopLevel(selector, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" || matchCompound(el, part) {
			return true
		}
	}
	return false
}

func splitTopLevel(s string, sep rune) []string {
	var (
		parts []string
		depth int
		start int
		quote rune
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		case r == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func matchCompound(el *Element, sel string) bool {
	i := 0
	// Leading tag name
	for i < len(sel) && isIdentByte(sel[i]) {
		i++
	}
	if i > 0 && !strings.EqualFold(sel[:i], el.Tag) {
		return false
	}

	for i < len(sel) {
		switch sel[i] {
		case '#':
			j := scanIdent(sel, i+1)
			if el.ID != sel[i+1:j] {
				return false
			}
			i = j
		case '.':
			j := scanIdent(sel, i+1)
			if !el.HasClass(sel[i+1 : j]) {
				return false
			}
			i = j
		case '[':
			j := closing(sel, i, '[', ']')
			if j < 0 || !matchAttr(el, sel[i+1:j]) {
				return false
			}
			i = j + 1
		case ':':
			if !strings.HasPrefix(sel[i:], ":not(") {
				return false
			}
			open := i + len(":not")
			j := closing(sel, open, '(', ')')
			if j < 0 || matchCompound(el, sel[open+1:j]) {
				return false
			}
			i = j + 1
		default:
			return false
		}
	}
	return true
}

func matchAttr(el *Element, expr string) bool {
	name, value, hasValue := strings.Cut(expr, "=")
	name = strings.TrimSpace(name)
	got, ok := el.Attr(name)
	if !ok {
		return false
	}
	if !hasValue {
		return true
	}
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	return got == value
}

func closing(s string, start int, openCh, closeCh byte) int {
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == openCh:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func scanIdent(s string, i int) int {
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return i
}

func isIdentByte(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
