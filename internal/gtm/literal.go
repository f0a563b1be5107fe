package gtm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// EvaluateObjectLiteral turns a candidate substring into a native value.
// The candidate may be valid JSON, or a JavaScript object literal with bare
// keys, single quotes, comments, and trailing commas that JSON rejects.
//
// Tiers, cheapest first:
//  1. strict JSON
//  2. JSON after normalizing quotes, stripping comments and trailing commas
//  3. a dedicated permissive object-literal parser
//
// The candidate always originates from Google's own served artifact, never
// from end-user input. Even so, tier 3 is a grammar parser rather than any
// kind of code execution, so hostile input can at worst fail to parse.
func EvaluateObjectLiteral(candidate string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err == nil {
		return v, nil
	}

	if norm := normalizeLooseJSON(candidate); norm != candidate {
		if err := json.Unmarshal([]byte(norm), &v); err == nil {
			return v, nil
		}
	}

	p := &literalParser{src: candidate}
	v, err := p.parseValue(0)
	if err != nil {
		return nil, fmt.Errorf("object literal not parseable by any tier: %w", err)
	}
	p.skipTrivia()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("object literal not parseable by any tier: trailing input at offset %d", p.pos)
	}
	return v, nil
}

// normalizeLooseJSON rewrites near-JSON JavaScript into strict JSON: single
// quoted strings become double quoted, // and /* */ comments are dropped,
// and trailing commas before a closing bracket are removed. The rewrite is
// string-aware so quoting and comment markers inside literals survive.
func normalizeLooseJSON(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch c {
		case '"', '\'':
			quote := c
			var lit strings.Builder
			j := i + 1
			terminated := false
			for j < len(s) {
				if s[j] == '\\' && j+1 < len(s) {
					esc := s[j+1]
					if esc == '\'' {
						lit.WriteByte('\'') // \' is not legal JSON
					} else {
						lit.WriteByte('\\')
						lit.WriteByte(esc)
					}
					j += 2
					continue
				}
				if s[j] == quote {
					terminated = true
					break
				}
				if s[j] == '"' { // bare double quote inside a single-quoted string
					lit.WriteString(`\"`)
					j++
					continue
				}
				lit.WriteByte(s[j])
				j++
			}
			if !terminated {
				return s // unterminated string, give up on normalizing
			}
			out.WriteByte('"')
			out.WriteString(lit.String())
			out.WriteByte('"')
			i = j

		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					out.WriteByte('\n')
				}
			} else if i+1 < len(s) && s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return s
				}
				i += 2 + end + 1
			} else {
				out.WriteByte(c)
			}

		case ',':
			// Drop the comma if the next non-space character closes a scope.
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			out.WriteByte(c)

		default:
			out.WriteByte(c)
		}
	}

	return out.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// literalParser is a recursive-descent parser over the JavaScript object
// literal grammar: bare and quoted keys, single and double quotes, decimal
// and hex numbers, true/false/null/undefined, nested objects and arrays,
// trailing commas, and both comment styles.
type literalParser struct {
	src string
	pos int
}

// maxLiteralDepth caps nesting so adversarial input cannot blow the stack.
const maxLiteralDepth = 200

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipTrivia() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isJSONSpace(c) {
			p.pos++
			continue
		}
		if c == '/' && p.pos+1 < len(p.src) {
			if p.src[p.pos+1] == '/' {
				for p.pos < len(p.src) && p.src[p.pos] != '\n' {
					p.pos++
				}
				continue
			}
			if p.src[p.pos+1] == '*' {
				end := strings.Index(p.src[p.pos+2:], "*/")
				if end < 0 {
					p.pos = len(p.src)
					return
				}
				p.pos += 2 + end + 2
				continue
			}
		}
		return
	}
}

func (p *literalParser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *literalParser) parseValue(depth int) (any, error) {
	if depth > maxLiteralDepth {
		return nil, p.errorf("nesting too deep")
	}
	p.skipTrivia()
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}

	switch {
	case c == '{':
		return p.parseObject(depth)
	case c == '[':
		return p.parseArray(depth)
	case c == '"' || c == '\'':
		return p.parseString()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseWord()
	}
}

func (p *literalParser) parseObject(depth int) (any, error) {
	p.pos++ // consume '{'
	obj := map[string]any{}

	for {
		p.skipTrivia()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated object")
		}
		if c == '}' {
			p.pos++
			return obj, nil
		}

		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}

		p.skipTrivia()
		if c, ok := p.peek(); !ok || c != ':' {
			return nil, p.errorf("expected ':' after object key %q", key)
		}
		p.pos++

		val, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		obj[key] = val

		p.skipTrivia()
		c, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated object")
		case c == ',':
			p.pos++
		case c == '}':
			// closed on next iteration
		default:
			return nil, p.errorf("expected ',' or '}' in object, got %q", string(c))
		}
	}
}

func (p *literalParser) parseArray(depth int) (any, error) {
	p.pos++ // consume '['
	arr := []any{}

	for {
		p.skipTrivia()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated array")
		}
		if c == ']' {
			p.pos++
			return arr, nil
		}

		val, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)

		p.skipTrivia()
		c, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated array")
		case c == ',':
			p.pos++
		case c == ']':
			// closed on next iteration
		default:
			return nil, p.errorf("expected ',' or ']' in array, got %q", string(c))
		}
	}
}

// parseKey accepts quoted strings, bare identifiers, and bare numbers as
// object keys, all of which appear in published containers.
func (p *literalParser) parseKey() (string, error) {
	c, ok := p.peek()
	if !ok {
		return "", p.errorf("unexpected end of input in object key")
	}
	if c == '"' || c == '\'' {
		return p.parseString()
	}

	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("invalid object key starting with %q", string(c))
	}
	return p.src[start:p.pos], nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *literalParser) parseString() (string, error) {
	quote := p.src[p.pos]
	p.pos++

	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			return sb.String(), nil
		}
		if c != '\\' {
			sb.WriteByte(c)
			p.pos++
			continue
		}

		// escape sequence
		if p.pos+1 >= len(p.src) {
			return "", p.errorf("unterminated escape")
		}
		esc := p.src[p.pos+1]
		p.pos += 2
		switch esc {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case 'x':
			if p.pos+2 > len(p.src) {
				return "", p.errorf("truncated \\x escape")
			}
			n, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
			if err != nil {
				return "", p.errorf("invalid \\x escape")
			}
			sb.WriteRune(rune(n))
			p.pos += 2
		case 'u':
			r, err := p.parseUnicodeEscape()
			if err != nil {
				return "", err
			}
			sb.WriteRune(r)
		default:
			// \' \" \\ \/ and anything else: the escaped character itself
			sb.WriteByte(esc)
		}
	}
	return "", p.errorf("unterminated string")
}

// parseUnicodeEscape reads the 4 hex digits after \u, pairing surrogate
// halves when a second \u escape follows immediately.
func (p *literalParser) parseUnicodeEscape() (rune, error) {
	if p.pos+4 > len(p.src) {
		return 0, p.errorf("truncated \\u escape")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
	if err != nil {
		return 0, p.errorf("invalid \\u escape")
	}
	p.pos += 4
	r := rune(n)

	if utf16.IsSurrogate(r) && p.pos+6 <= len(p.src) && p.src[p.pos] == '\\' && p.src[p.pos+1] == 'u' {
		n2, err := strconv.ParseUint(p.src[p.pos+2:p.pos+6], 16, 32)
		if err == nil {
			if paired := utf16.DecodeRune(r, rune(n2)); paired != '�' {
				p.pos += 6
				return paired, nil
			}
		}
	}
	return r, nil
}

func (p *literalParser) parseNumber() (any, error) {
	start := p.pos
	if c, _ := p.peek(); c == '-' || c == '+' {
		p.pos++
	}

	// hex literal
	if p.pos+1 < len(p.src) && p.src[p.pos] == '0' && (p.src[p.pos+1] == 'x' || p.src[p.pos+1] == 'X') {
		p.pos += 2
		digits := p.pos
		for p.pos < len(p.src) && isHexDigit(p.src[p.pos]) {
			p.pos++
		}
		if p.pos == digits {
			return nil, p.errorf("invalid hex literal")
		}
		n, err := strconv.ParseUint(p.src[digits:p.pos], 16, 64)
		if err != nil {
			return nil, p.errorf("invalid hex literal")
		}
		if p.src[start] == '-' {
			return -float64(n), nil
		}
		return float64(n), nil
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		if (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E') {
			p.pos++
			continue
		}
		break
	}

	text := p.src[start:p.pos]
	f, err := strconv.ParseFloat(strings.TrimPrefix(text, "+"), 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", text)
	}
	return f, nil
}

func (p *literalParser) parseWord() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	switch word := p.src[start:p.pos]; word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "undefined", "NaN":
		return nil, nil
	default:
		return nil, p.errorf("unsupported token %q", word)
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
