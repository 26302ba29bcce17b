// Package gateway implements the administrative line protocol served over
// TLS on every door controller:
//
//	<command>$<admin>$<password>$<target>[$<token>]
//
// Each request is one '\n'-terminated line and gets exactly one response
// line. Any request that is malformed, fails authentication or names an
// unknown target is answered with an empty line.
package gateway

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Command is the first field of a request line.
type Command string

const (
	CmdSearch      Command = "search"
	CmdAddToken    Command = "addToken"
	CmdDeleteToken Command = "deleteToken"
	CmdDeleteAll   Command = "deleteAll"
	// CmdListTokens returns every token in the store; synchronization agents
	// on other doors use it. The target field is required by the grammar but
	// ignored.
	CmdListTokens Command = "listTokens"
)

// Delimiter separates request fields.
const Delimiter = "$"

var ErrGrammar = errors.New("request does not match the protocol grammar")

// The token field may be empty so "search$admin$admin$admin$" is accepted.
var requestPattern = regexp.MustCompile(
	`^(search|addToken|deleteToken|deleteAll|listTokens)\$([^$]+)\$([^$]+)\$([^$]+)(?:\$([^$]*))?$`)

// Request is a parsed protocol line.
type Request struct {
	Command  Command
	Admin    types.Identifier
	Password string
	Target   types.Identifier
	Token    types.Identifier // empty when absent
}

// ParseRequest parses one request line without its terminator. A trailing
// '\r' is tolerated.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSuffix(line, "\r")
	m := requestPattern.FindStringSubmatch(line)
	if m == nil {
		return Request{}, ErrGrammar
	}
	return Request{
		Command:  Command(m[1]),
		Admin:    types.Identifier(m[2]),
		Password: m[3],
		Target:   types.Identifier(m[4]),
		Token:    types.Identifier(m[5]),
	}, nil
}

// String encodes the request as a protocol line without terminator.
func (r Request) String() string {
	parts := []string{string(r.Command), string(r.Admin), r.Password, string(r.Target)}
	if r.Token != "" {
		parts = append(parts, string(r.Token))
	}
	return strings.Join(parts, Delimiter)
}

// Mutates reports whether the command can change the store.
func (c Command) Mutates() bool {
	switch c {
	case CmdAddToken, CmdDeleteToken, CmdDeleteAll:
		return true
	default:
		return false
	}
}

// The listTokens response is the token segment of a record line: a leading
// ':' followed by ';'-separated identifiers. The leading ':' tells an empty
// store apart from a rejected request, which is answered with an empty line.

func encodeTokenList(toks []types.Token) string {
	ids := make([]string, len(toks))
	for i, t := range toks {
		ids[i] = string(t.ID)
	}
	return types.TokensSeparator + strings.Join(ids, types.FieldSeparator)
}

var ErrRejected = errors.New("request rejected by gateway")

func decodeTokenList(line string) ([]types.Token, error) {
	rest, ok := strings.CutPrefix(line, types.TokensSeparator)
	if !ok {
		return nil, ErrRejected
	}
	var out []types.Token
	for _, id := range strings.Split(rest, types.FieldSeparator) {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, types.NewAuthorized(types.Identifier(id)))
		}
	}
	return out, nil
}
