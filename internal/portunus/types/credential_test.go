package types

import (
	"errors"
	"testing"
)

func TestParseRecord_RoundTrip(t *testing.T) {
	cases := []string{
		"admin;admin;admin:",
		"Max,Mustermann;identifier1;password1:",
		"Max,Mustermann;identifier1;password1:tok1",
		"Max,Mustermann;identifier1;password1:tok1;tok2;tok3",
	}
	for _, line := range cases {
		rec, err := ParseRecord(line)
		if err != nil {
			t.Fatalf("ParseRecord(%q): %v", line, err)
		}
		if got := rec.Line(); got != line {
			t.Errorf("Line() = %q, want %q", got, line)
		}
	}
}

func TestParseRecord_Fields(t *testing.T) {
	rec, err := ParseRecord("Max,Mustermann;identifier1;password1:tok1; tok2 ;\n")
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.Name.Last != "Max" || rec.Name.First != "Mustermann" {
		t.Errorf("unexpected name: %+v", rec.Name)
	}
	if rec.Identity != "identifier1" {
		t.Errorf("identity = %q", rec.Identity)
	}
	if rec.Password != "password1" {
		t.Errorf("password = %q", rec.Password)
	}
	if len(rec.Tokens) != 2 || rec.Tokens[0] != "tok1" || rec.Tokens[1] != "tok2" {
		t.Errorf("tokens = %v", rec.Tokens)
	}
}

func TestParseRecord_MissingTokenSegment(t *testing.T) {
	rec, err := ParseRecord("admin;admin;admin")
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if len(rec.Tokens) != 0 {
		t.Errorf("expected no tokens, got %v", rec.Tokens)
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	for _, line := range []string{"", "just-a-name", "a;b:tok", "a;;pw:"} {
		if _, err := ParseRecord(line); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("ParseRecord(%q) err = %v, want ErrMalformedRecord", line, err)
		}
	}
}

func TestNewRecord_Validation(t *testing.T) {
	if _, err := NewRecord(Name{Last: "a"}, "id", ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := NewRecord(Name{Last: "a"}, " ", "pw"); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("expected ErrEmptyIdentifier, got %v", err)
	}
}

func TestToken_EqualIgnoresTrust(t *testing.T) {
	a := NewAuthorized("tok1")
	u := NewUnauthorized("tok1")
	if !a.Equal(u) {
		t.Error("tokens with the same identifier must compare equal")
	}
	if a.Equal(NewAuthorized("tok2")) {
		t.Error("tokens with different identifiers must not compare equal")
	}
}
