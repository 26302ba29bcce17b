package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/gateway"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// errRejected covers every reason the gateway answers with an empty line:
// bad administrator credentials, unknown identity or a store failure.
var errRejected = errors.New("rejected by gateway (check credentials and identity)")

// fetchRecord searches identity and parses the returned line.
func fetchRecord(cmd *cobra.Command, identity string) (types.Record, error) {
	line, err := client.Search(cmd.Context(), types.Identifier(cfg.Admin), cfg.Password, types.Identifier(identity))
	if err != nil {
		return types.Record{}, err
	}
	if line == "" {
		return types.Record{}, errRejected
	}
	return types.ParseRecord(line)
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <identity>",
		Short: "Show a credential record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := fetchRecord(cmd, args[0])
			if err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintRecord(rec)
			return nil
		},
	}
}

func newAddTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-token <identity> <token>",
		Short: "Add a token to a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, token := types.Identifier(args[0]), types.Identifier(args[1])
			if err := client.AddToken(cmd.Context(), types.Identifier(cfg.Admin), cfg.Password, identity, token); err != nil {
				return err
			}
			rec, err := fetchRecord(cmd, args[0])
			if err != nil {
				return err
			}
			if !rec.HasToken(token) {
				return fmt.Errorf("token %s was not added", token)
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintRecord(rec)
			return nil
		},
	}
}

func newDeleteTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-token <identity> <token>",
		Short: "Remove a token from a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, token := types.Identifier(args[0]), types.Identifier(args[1])
			if err := client.DeleteToken(cmd.Context(), types.Identifier(cfg.Admin), cfg.Password, identity, token); err != nil {
				return err
			}
			rec, err := fetchRecord(cmd, args[0])
			if err != nil {
				return err
			}
			if rec.HasToken(token) {
				return fmt.Errorf("token %s was not removed", token)
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintRecord(rec)
			return nil
		},
	}
}

func newDeleteAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all <identity>",
		Short: "Remove every token from a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.DeleteAll(cmd.Context(), types.Identifier(cfg.Admin), cfg.Password, types.Identifier(args[0])); err != nil {
				return err
			}
			rec, err := fetchRecord(cmd, args[0])
			if err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintRecord(rec)
			return nil
		},
	}
}

func newListTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tokens",
		Short: "List every token in the credential store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			toks, err := client.ListTokens(cmd.Context(), types.Identifier(cfg.Admin), cfg.Password)
			if errors.Is(err, gateway.ErrRejected) {
				return errRejected
			}
			if err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintTokens(toks)
			return nil
		},
	}
}
