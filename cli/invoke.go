package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"xbdm-loader/codec"
	"xbdm-loader/message"
)

// invokeOutput is the --json rendering of a call.
type invokeOutput struct {
	Console     string   `json:"console"`
	Module      string   `json:"module"`
	Ordinal     uint32   `json:"ordinal"`
	Arguments   []string `json:"arguments"`
	ReturnValue *uint64  `json:"return_value,omitempty"`
}

func newInvokeCmd(a *app) *cobra.Command {
	var (
		wantReturn bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "invoke <module> <ordinal> [arg...]",
		Short: "Call an exported routine by ordinal",
		Long: `Call the routine exported by <module> at <ordinal>.

Arguments are integers or strings, in call order:
  int:<n>    integer, decimal or 0x hex
  str:<s>    string
  <n>        bare decimal or 0x hex number, an integer
  <s>        anything else, a string`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ordinal, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid ordinal %q: %w", args[1], err)
			}
			callArgs := make([]message.Argument, 0, len(args)-2)
			for _, raw := range args[2:] {
				arg, err := message.ParseArgument(raw)
				if err != nil {
					return err
				}
				callArgs = append(callArgs, arg)
			}
			req, err := message.NewRequest(args[0], uint32(ordinal), callArgs, wantReturn || asJSON)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			consoles, err := a.targets(ctx, req.TargetModule)
			if err != nil {
				return err
			}
			return a.forEach(ctx, consoles, cmd.OutOrStdout(), func(ctx context.Context, t *target, out io.Writer) error {
				result, err := t.client.Call(ctx, req)
				if err != nil {
					return err
				}
				return printResult(out, t, req, result, asJSON)
			})
		},
	}
	cmd.Flags().BoolVarP(&wantReturn, "return", "r", false, "fetch and print the return value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the call and its return value as JSON")
	return cmd
}

func printResult(out io.Writer, t *target, req *message.Request, result *message.Result, asJSON bool) error {
	if asJSON {
		view := invokeOutput{
			Console:     t.console.Name,
			Module:      req.TargetModule,
			Ordinal:     req.Ordinal,
			Arguments:   make([]string, len(req.Arguments)),
			ReturnValue: result.ReturnValue,
		}
		for i, arg := range req.Arguments {
			view.Arguments[i] = arg.String()
		}
		data, err := (&codec.JSONCodec{Indent: true}).Encode(view)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}

	if v, ok := result.Value(); ok {
		_, err := fmt.Fprintf(out, "0x%08X\n", v)
		return err
	}
	t.logger.Info().Stringer("request", req).Msg("call completed")
	return nil
}
