package dbus

import "fmt"

// ObjectPath is a D-Bus object path.
type ObjectPath string

// Variant holds a single D-Bus variant: the signature carried in the data
// stream and the decoded value.
type Variant struct {
	Sig   string
	Value any
}

// firstType returns the prefix of sig that forms exactly one complete
// type, per the D-Bus signature grammar: a single scalar tag, an array
// tag followed by one complete element type, or a brace/paren container
// with balanced nesting.
func firstType(sig string) (string, error) {
	if sig == "" {
		return "", fmt.Errorf("empty signature")
	}
	switch sig[0] {
	case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 'h', 's', 'o', 'g', 'v':
		return sig[:1], nil
	case 'a':
		elem, err := firstType(sig[1:])
		if err != nil {
			return "", fmt.Errorf("array with no element type in %q", sig)
		}
		return sig[:1+len(elem)], nil
	case '(', '{':
		open, close := sig[0], byte(')')
		if open == '{' {
			close = '}'
		}
		depth := 0
		for i := 0; i < len(sig); i++ {
			switch sig[i] {
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					return sig[:i+1], nil
				}
			}
		}
		return "", fmt.Errorf("unbalanced container in signature %q", sig)
	default:
		return "", fmt.Errorf("unknown type tag %q", sig[0])
	}
}

// alignOf returns the wire alignment of the type starting sig.
func alignOf(sig string) int {
	if sig == "" {
		return 1
	}
	switch sig[0] {
	case 'y', 'g', 'v':
		return 1
	case 'n', 'q':
		return 2
	case 'b', 'i', 'u', 'h', 's', 'o', 'a':
		return 4
	case 'x', 't', 'd', '(', '{':
		return 8
	}
	return 1
}
