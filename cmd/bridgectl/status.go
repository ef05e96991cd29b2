package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xrplbridge/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show a bridge request",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.Get(cmd.Context(), args[0])
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("bridge request %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(cmd, req)
	}
	displayRequest(cmd.OutOrStdout(), req)
	return nil
}

func displayRequest(w io.Writer, req *types.BridgeRequest) {
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintf(w, "  Request:         %s\n", color.CyanString(req.RequestID))
	fmt.Fprintf(w, "  Direction:       %s\n", req.Direction)
	fmt.Fprintf(w, "  Status:          %s\n", coloredStatus(req.Status))
	fmt.Fprintf(w, "  Amount:          %s XRP\n", req.Amount)
	fmt.Fprintf(w, "  Source:          %s\n", req.SourceAddress)
	fmt.Fprintf(w, "  Destination:     %s\n", req.DestinationAddress)
	if req.SourceTxHash != "" {
		fmt.Fprintf(w, "  Deposit Tx:      %s\n", color.HiBlackString(req.SourceTxHash))
	}
	if req.DestinationTxHash != "" {
		fmt.Fprintf(w, "  Payment Tx:      %s\n", color.HiBlackString(req.DestinationTxHash))
	}
	if req.EstimatedFee != "" {
		fmt.Fprintf(w, "  Estimated Fee:   %s XRP\n", req.EstimatedFee)
	}
	if req.HookStatus != "" {
		fmt.Fprintf(w, "  Hook:            %s %s\n", req.HookStatus, req.HookTxHash)
	}
	if req.HookMessage != "" {
		fmt.Fprintf(w, "  Hook Message:    %s\n", req.HookMessage)
	}
	if req.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:           %s\n", color.RedString(req.ErrorMessage))
	}
	fmt.Fprintf(w, "  Created:         %s\n", req.CreatedAt.Format("2006-01-02 15:04:05"))
	if req.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed:       %s\n", req.CompletedAt.Format("2006-01-02 15:04:05"))
	}
}
