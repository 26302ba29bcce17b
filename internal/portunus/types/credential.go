package types

import (
	"errors"
	"fmt"
	"strings"
)

// Field separators of the credential line format:
//
//	<last>,<first>;<identity>;<password>:<token1>;<token2>;...
const (
	NameSeparator   = ","
	FieldSeparator  = ";"
	TokensSeparator = ":"
)

var (
	ErrEmptyIdentifier = errors.New("identifier is required")
	ErrEmptyPassword   = errors.New("password must contain at least one character")
	ErrMalformedRecord = errors.New("malformed credential record")
)

// Identifier is an opaque key naming a user, an administrator or a token.
type Identifier string

func (id Identifier) String() string { return string(id) }

func (id Identifier) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// Trust tags a token as coming from the credential store (Authorized) or
// from an untrusted source such as a scanner or a protocol request.
type Trust uint8

const (
	Unauthorized Trust = iota
	Authorized
)

func (t Trust) String() string {
	switch t {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("trust(%d)", uint8(t))
	}
}

// Token is a credential presented at a door. Two tokens are equal when their
// identifiers are equal; the trust tag does not take part in comparisons.
type Token struct {
	ID    Identifier
	Trust Trust
}

func NewAuthorized(id Identifier) Token { return Token{ID: id, Trust: Authorized} }

func NewUnauthorized(id Identifier) Token { return Token{ID: id, Trust: Unauthorized} }

func (t Token) Equal(o Token) bool { return t.ID == o.ID }

func (t Token) String() string { return string(t.ID) }

// Name is the two-part display name of a credential record.
type Name struct {
	Last  string
	First string
}

// ParseName splits "Last,First". A value without a separator is kept as Last.
func ParseName(s string) Name {
	last, first, _ := strings.Cut(s, NameSeparator)
	return Name{Last: last, First: first}
}

func (n Name) String() string {
	if n.First == "" {
		return n.Last
	}
	return n.Last + NameSeparator + n.First
}

// Record is one persisted credential entry.
type Record struct {
	Name     Name
	Identity Identifier
	Password string
	Tokens   []Identifier
}

// NewRecord validates identity and password before building a Record.
func NewRecord(name Name, identity Identifier, password string, tokens ...Identifier) (Record, error) {
	if identity.IsZero() {
		return Record{}, ErrEmptyIdentifier
	}
	if password == "" {
		return Record{}, ErrEmptyPassword
	}
	return Record{Name: name, Identity: identity, Password: password, Tokens: tokens}, nil
}

// Line renders the record in the persisted one-line format.
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(r.Name.String())
	b.WriteString(FieldSeparator)
	b.WriteString(string(r.Identity))
	b.WriteString(FieldSeparator)
	b.WriteString(r.Password)
	b.WriteString(TokensSeparator)
	for i, t := range r.Tokens {
		if i > 0 {
			b.WriteString(FieldSeparator)
		}
		b.WriteString(string(t))
	}
	return b.String()
}

// HasToken reports whether id is in the record's token list.
func (r Record) HasToken(id Identifier) bool {
	for _, t := range r.Tokens {
		if t == id {
			return true
		}
	}
	return false
}

// ParseRecord parses a persisted record line. A line without a token
// segment is read as a record with no tokens.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	head, tail, _ := strings.Cut(line, TokensSeparator)

	fields := strings.Split(head, FieldSeparator)
	if len(fields) != 3 {
		return Record{}, fmt.Errorf("%w: want 3 header fields, got %d", ErrMalformedRecord, len(fields))
	}
	if strings.TrimSpace(fields[1]) == "" {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, ErrEmptyIdentifier)
	}

	rec := Record{
		Name:     ParseName(fields[0]),
		Identity: Identifier(fields[1]),
		Password: fields[2],
	}
	for _, t := range strings.Split(tail, FieldSeparator) {
		t = strings.TrimSpace(t)
		if t != "" {
			rec.Tokens = append(rec.Tokens, Identifier(t))
		}
	}
	return rec, nil
}
