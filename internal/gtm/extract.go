package gtm

// maxExtractWindow bounds how far the balanced-object scan will walk past the
// opening brace. Published containers rarely exceed a couple of megabytes, so
// anything longer is pathological input and the scan gives up.
const maxExtractWindow = 4 << 20

// ExtractBalancedObject returns the substring of text that forms one
// syntactically balanced object literal starting at start, which must point
// at an opening brace. Braces inside string literals are ignored, including
// escaped quotes and nested quoting. Returns false when the input is
// unbalanced, the string is unterminated, or the scan window is exhausted.
//
// This is a hand-rolled tokenizer on purpose: the input mixes JSON with
// arbitrary JavaScript and a regular expression cannot track nesting.
func ExtractBalancedObject(text string, start int) (string, bool) {
	if start < 0 || start >= len(text) || text[start] != '{' {
		return "", false
	}

	end := len(text)
	if max := start + maxExtractWindow; max < end {
		end = max
	}

	depth := 0
	inString := false
	var quote byte

	for i := start; i < end; i++ {
		c := text[i]

		if inString {
			switch c {
			case '\\':
				i++ // skip the escaped character
			case quote:
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
			if depth < 0 {
				return "", false
			}
		}
	}

	// Ran off the end of the window with the object still open.
	return "", false
}
