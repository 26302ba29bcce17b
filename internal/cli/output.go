package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Output formats command results as text or JSON.
type Output struct {
	format string
	w      io.Writer
}

func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

type recordView struct {
	Name     string   `json:"name"`
	Identity string   `json:"identity"`
	Tokens   []string `json:"tokens"`
}

// PrintRecord prints a record without its password.
func (o *Output) PrintRecord(rec types.Record) {
	tokens := make([]string, len(rec.Tokens))
	for i, t := range rec.Tokens {
		tokens[i] = string(t)
	}
	if o.format == "json" {
		o.printJSON(recordView{Name: rec.Name.String(), Identity: string(rec.Identity), Tokens: tokens})
		return
	}
	fmt.Fprintf(o.w, "Name:     %s\n", rec.Name)
	fmt.Fprintf(o.w, "Identity: %s\n", rec.Identity)
	if len(tokens) == 0 {
		fmt.Fprintln(o.w, "Tokens:   (none)")
		return
	}
	fmt.Fprintf(o.w, "Tokens:   %s\n", strings.Join(tokens, ", "))
}

func (o *Output) PrintTokens(toks []types.Token) {
	ids := make([]string, len(toks))
	for i, t := range toks {
		ids[i] = string(t.ID)
	}
	if o.format == "json" {
		o.printJSON(map[string]any{"tokens": ids, "count": len(ids)})
		return
	}
	for _, id := range ids {
		fmt.Fprintln(o.w, id)
	}
	fmt.Fprintf(o.w, "(%d tokens)\n", len(ids))
}

func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		o.printJSON(map[string]string{"message": msg})
		return
	}
	fmt.Fprintln(o.w, msg)
}

func (o *Output) printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(o.w, "Error formatting JSON: %v\n", err)
		return
	}
	fmt.Fprintln(o.w, string(data))
}
