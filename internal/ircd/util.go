package ircd

import "strings"

// maxChannelLength is arbitrary, chosen to stay well under the wire message
// limit when a channel name appears in a reply alongside other parameters.
const maxChannelLength = 50

// nickExtraChars are the characters a nickname may contain after its first,
// alphabetic, character.
const nickExtraChars = "_-[]\\`^{}"

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique). We don't check validity here.
func canonicalizeNick(n string) string {
	return strings.ToLower(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique). We don't check validity here.
func canonicalizeChannel(c string) string {
	return strings.ToLower(c)
}

// isValidNick checks a nickname against the rules in spec.md's Connection
// State Machine section: starts with a letter, at most maxLen characters,
// remaining characters from the alphanumeric-plus-punctuation set, never a
// space or '@'.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}

	first := rune(n[0])
	if !isAlpha(first) {
		return false
	}

	for _, char := range n[1:] {
		if isAlpha(char) || isDigit(char) {
			continue
		}
		if strings.ContainsRune(nickExtraChars, char) {
			continue
		}
		return false
	}

	return true
}

// isValidUser checks a USER command's username field. RFC is lenient here;
// we disallow spaces, NUL, CR and LF and otherwise accept anything, matching the spirit of the original server's near-absence of
// USER validation.
func isValidUser(u string) bool {
	if len(u) == 0 {
		return false
	}

	for _, char := range u {
		if char == ' ' || char == '\x00' || char == '\r' || char == '\n' {
			return false
		}
	}

	return true
}

// isValidChannel checks a channel name for validity. Canonicalize first.
func isValidChannel(c string) bool {
	if len(c) < 2 || len(c) > maxChannelLength {
		return false
	}

	if c[0] != '#' {
		return false
	}

	for _, char := range c[1:] {
		if char == ' ' || char == '\x00' || char == '\r' || char == '\n' ||
			char == ',' || char == ':' {
			return false
		}
	}

	return true
}

func isAlpha(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
