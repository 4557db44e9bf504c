package trollsift

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adybbroe/pytroll-collectors/errors"
)

// Fields is a parsed or to-be-rendered metadata record. Values are string,
// int or time.Time depending on the template's format spec.
type Fields map[string]any

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindTime
)

// token is one template element: either a literal run or one field marker.
type token struct {
	literal string

	field string
	kind  fieldKind

	// string formatting
	fill  byte
	align byte
	width int

	// integer formatting
	zeroPad bool

	// timestamp formatting (raw strftime spec)
	timeSpec string
}

// Parser parses filenames against one template and renders filenames or
// wildcarded patterns from metadata records.
type Parser struct {
	template string
	tokens   []token
	re       *regexp.Regexp
	captures []int // token index per capture group
}

// NewParser compiles a filename template.
func NewParser(template string) (*Parser, error) {
	tokens, err := tokenize(template)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Parser", "NewParser", "compile template")
	}

	re, captures, err := buildRegexp(tokens)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Parser", "NewParser", "compile template")
	}

	return &Parser{
		template: template,
		tokens:   tokens,
		re:       re,
		captures: captures,
	}, nil
}

// Template returns the original template string.
func (p *Parser) Template() string {
	return p.template
}

func tokenize(template string) ([]token, error) {
	var tokens []token
	var literal strings.Builder

	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			if c == '}' {
				return nil, fmt.Errorf("unmatched '}' at offset %d", i)
			}
			literal.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unmatched '{' at offset %d", i)
		}
		end += i

		if literal.Len() > 0 {
			tokens = append(tokens, token{literal: literal.String()})
			literal.Reset()
		}

		marker := template[i+1 : end]
		tok, err := parseMarker(marker)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)

		i = end + 1
	}

	if literal.Len() > 0 {
		tokens = append(tokens, token{literal: literal.String()})
	}

	return tokens, nil
}

var stringSpecRe = regexp.MustCompile(`^(?:(.)([<>^]))?(\d*)s$`)
var intSpecRe = regexp.MustCompile(`^(0?)(\d*)d$`)

func parseMarker(marker string) (token, error) {
	name := marker
	spec := ""
	if idx := strings.IndexByte(marker, ':'); idx >= 0 {
		name = marker[:idx]
		spec = marker[idx+1:]
	}
	if name == "" {
		return token{}, fmt.Errorf("field marker {%s} has no name", marker)
	}

	tok := token{field: name}

	switch {
	case spec == "" || spec == "s":
		tok.kind = kindString
	case strings.ContainsRune(spec, '%'):
		tok.kind = kindTime
		tok.timeSpec = spec
		if err := validateTimeSpec(spec); err != nil {
			return token{}, fmt.Errorf("field %s: %w", name, err)
		}
	case strings.HasSuffix(spec, "s"):
		m := stringSpecRe.FindStringSubmatch(spec)
		if m == nil {
			return token{}, fmt.Errorf("field %s: unsupported string spec %q", name, spec)
		}
		tok.kind = kindString
		if m[1] != "" {
			tok.fill = m[1][0]
			tok.align = m[2][0]
		}
		if m[3] != "" {
			tok.width, _ = strconv.Atoi(m[3])
		}
	case strings.HasSuffix(spec, "d"):
		m := intSpecRe.FindStringSubmatch(spec)
		if m == nil {
			return token{}, fmt.Errorf("field %s: unsupported integer spec %q", name, spec)
		}
		tok.kind = kindInt
		tok.zeroPad = m[1] == "0"
		if m[2] != "" {
			tok.width, _ = strconv.Atoi(m[2])
			if tok.zeroPad {
				// "05d": the leading zero is part of the width
				tok.width, _ = strconv.Atoi(m[1] + m[2])
			}
		}
	default:
		return token{}, fmt.Errorf("field %s: unsupported format spec %q", name, spec)
	}

	return tok, nil
}

func buildRegexp(tokens []token) (*regexp.Regexp, []int, error) {
	var sb strings.Builder
	var captures []int

	sb.WriteString("^")
	for i, tok := range tokens {
		if tok.field == "" {
			sb.WriteString(regexp.QuoteMeta(tok.literal))
			continue
		}

		captures = append(captures, i)
		switch tok.kind {
		case kindString:
			if tok.width > 0 {
				fmt.Fprintf(&sb, "(.{%d})", tok.width)
			} else {
				sb.WriteString("(.+?)")
			}
		case kindInt:
			if tok.width > 0 {
				fmt.Fprintf(&sb, `(\d{%d})`, tok.width)
			} else {
				sb.WriteString(`(\d+)`)
			}
		case kindTime:
			sb.WriteString("(")
			sb.WriteString(timeSpecRegexp(tok.timeSpec))
			sb.WriteString(")")
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, err
	}
	return re, captures, nil
}

// Parse extracts typed field values from a filename. The returned error is
// recoverable: a non-matching filename is expected when probing multiple
// source patterns against one file.
func (p *Parser) Parse(filename string) (Fields, error) {
	m := p.re.FindStringSubmatch(filename)
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Parser", "Parse",
			fmt.Sprintf("%q does not match template %q", filename, p.template))
	}

	fields := make(Fields)
	for gi, ti := range p.captures {
		tok := p.tokens[ti]
		raw := m[gi+1]

		switch tok.kind {
		case kindString:
			fields[tok.field] = unpad(raw, tok.fill, tok.align)
		case kindInt:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Parser", "Parse",
					fmt.Sprintf("field %s from %q", tok.field, raw))
			}
			fields[tok.field] = v
		case kindTime:
			t, err := parseTimeSpec(tok.timeSpec, raw)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Parser", "Parse",
					fmt.Sprintf("field %s from %q", tok.field, raw))
			}
			fields[tok.field] = t
		}
	}

	return fields, nil
}

// Format renders a filename from a complete record. Every field referenced
// by the template must be present.
func (p *Parser) Format(fields Fields) (string, error) {
	var sb strings.Builder
	for _, tok := range p.tokens {
		if tok.field == "" {
			sb.WriteString(tok.literal)
			continue
		}
		v, ok := fields[tok.field]
		if !ok {
			return "", errors.WrapInvalid(errors.ErrInvalidData, "Parser", "Format",
				fmt.Sprintf("missing field %s", tok.field))
		}
		rendered, err := tok.render(v)
		if err != nil {
			return "", errors.WrapInvalid(err, "Parser", "Format",
				fmt.Sprintf("render field %s", tok.field))
		}
		sb.WriteString(rendered)
	}
	return sb.String(), nil
}

// Globify renders the template substituting known fields and a "*" wildcard
// for unset ones. Fields that fail to render (wrong type) also become
// wildcards, so a partially usable record still yields a valid pattern.
func (p *Parser) Globify(fields Fields) string {
	var sb strings.Builder
	for _, tok := range p.tokens {
		if tok.field == "" {
			sb.WriteString(tok.literal)
			continue
		}
		v, ok := fields[tok.field]
		if !ok {
			sb.WriteString("*")
			continue
		}
		rendered, err := tok.render(v)
		if err != nil {
			sb.WriteString("*")
			continue
		}
		sb.WriteString(rendered)
	}
	return sb.String()
}

func (t token) render(v any) (string, error) {
	switch t.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}
		return pad(s, t.fill, t.align, t.width), nil
	case kindInt:
		n, ok := toInt(v)
		if !ok {
			return "", fmt.Errorf("expected integer, got %T", v)
		}
		if t.width > 0 {
			if t.zeroPad {
				return fmt.Sprintf("%0*d", t.width, n), nil
			}
			return fmt.Sprintf("%*d", t.width, n), nil
		}
		return strconv.Itoa(n), nil
	case kindTime:
		ts, ok := v.(time.Time)
		if !ok {
			return "", fmt.Errorf("expected time.Time, got %T", v)
		}
		return formatTimeSpec(t.timeSpec, ts), nil
	}
	return "", fmt.Errorf("unknown field kind")
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		// Segment specs carry numbers as strings
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func pad(s string, fill, align byte, width int) string {
	if width <= len(s) {
		return s
	}
	if fill == 0 {
		fill = ' '
	}
	n := width - len(s)
	padding := strings.Repeat(string(fill), n)
	switch align {
	case '>':
		return padding + s
	case '^':
		left := n / 2
		return padding[:left] + s + padding[left:]
	default:
		return s + padding
	}
}

func unpad(s string, fill, align byte) string {
	if fill == 0 {
		fill = ' '
	}
	cut := string(fill)
	switch align {
	case '>':
		return strings.TrimLeft(s, cut)
	case '^':
		return strings.Trim(s, cut)
	default:
		return strings.TrimRight(s, cut)
	}
}
