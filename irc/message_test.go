package irc

import (
	"reflect"
	"testing"
)

func TestParsePrefixAndTrailing(t *testing.T) {
	m, err := Parse(":alice PRIVMSG #chan :hello world")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Message{
		Prefix:    "alice",
		Command:   "PRIVMSG",
		Arguments: []string{"#chan", "hello world"},
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("Parse = %+v, want %+v", m, want)
	}
}

func TestParseNoPrefix(t *testing.T) {
	m, err := Parse("NICK bob")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Prefix != "" {
		t.Errorf("Prefix = %q, want empty", m.Prefix)
	}
	if m.Command != "NICK" {
		t.Errorf("Command = %q, want NICK", m.Command)
	}
	if len(m.Arguments) != 1 || m.Arguments[0] != "bob" {
		t.Errorf("Arguments = %v, want [bob]", m.Arguments)
	}
}

func TestParseEmptyLine(t *testing.T) {
	if _, err := Parse(""); err != ErrSyntax {
		t.Errorf("Parse(\"\") err = %v, want ErrSyntax", err)
	}
	if _, err := Parse("   "); err != ErrSyntax {
		t.Errorf("Parse(whitespace) err = %v, want ErrSyntax", err)
	}
}

func TestParsePrefixOnly(t *testing.T) {
	if _, err := Parse(":some_prefix"); err != ErrSyntax {
		t.Errorf("Parse err = %v, want ErrSyntax", err)
	}
}

func TestParseTrailingEmpty(t *testing.T) {
	m, err := Parse("QUIT :")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Arguments) != 1 || m.Arguments[0] != "" {
		t.Errorf("Arguments = %v, want ['']", m.Arguments)
	}
}

func TestParseIdempotent(t *testing.T) {
	line := "USER bob 0 * :Bob B"
	m1, err1 := Parse(line)
	m2, err2 := Parse(line)
	if err1 != nil || err2 != nil {
		t.Fatalf("Parse errs: %v, %v", err1, err2)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("parsing twice gave different results: %+v vs %+v", m1, m2)
	}
}

func TestParseRoundTrip(t *testing.T) {
	m := Message{Command: "PRIVMSG", Arguments: []string{"#chan", "hello world"}}
	formatted := m.Format()
	reparsed, err := Parse(formatted)
	if err != nil {
		t.Fatalf("Parse(Format()): %v", err)
	}
	if !reflect.DeepEqual(m, reparsed) {
		t.Errorf("round trip mismatch: %+v -> %q -> %+v", m, formatted, reparsed)
	}
}

func TestParseNumericCommand(t *testing.T) {
	m, err := Parse(":irc.example.com 001 bob :Welcome")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Command != "001" {
		t.Errorf("Command = %q, want 001", m.Command)
	}
}
