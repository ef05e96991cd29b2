package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"xrplbridge/types"
)

var (
	listStatus string
	listSource string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bridge requests by status or by source address",
	Long: `List bridge requests, newest first. Exactly one of --status or --source is needed.

Examples:
  bridgectl list --status pending
  bridgectl list --source 0x52908400098527886E0F7030069857D2E4169EE7`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "pending, completed, failed or refunded")
	listCmd.Flags().StringVar(&listSource, "source", "", "Source address of the requests")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of requests, 0 for all")
}

func runList(cmd *cobra.Command, args []string) error {
	if (listStatus == "") == (listSource == "") {
		return fmt.Errorf("exactly one of --status or --source is required")
	}
	status := types.Status(listStatus)
	if listStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}

	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var reqs []*types.BridgeRequest
	if listStatus != "" {
		reqs, err = s.ListByStatus(cmd.Context(), status, listLimit)
	} else {
		reqs, err = s.ListBySourceAddress(cmd.Context(), listSource, listLimit)
	}
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(cmd, reqs)
	}
	displayList(cmd.OutOrStdout(), reqs)
	return nil
}

func displayList(w io.Writer, reqs []*types.BridgeRequest) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, "no bridge requests found")
		return
	}
	for _, req := range reqs {
		fmt.Fprintf(w, "%s  %-11s  %-20s  %s  %s XRP\n",
			req.CreatedAt.Format("2006-01-02 15:04:05"),
			req.Direction,
			coloredStatus(req.Status),
			req.RequestID,
			req.Amount,
		)
	}
}
