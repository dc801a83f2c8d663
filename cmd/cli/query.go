package cli

import (
	"strconv"

	"github.com/canopy-network/dbft/lib"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "query the node rpc",
}

var (
	member = 0
	fee    = uint64(0)
)

func init() {
	queryCmd.PersistentFlags().IntVar(&member, "member", 0, "the committee member answering the query")
	txCmd.Flags().Uint64Var(&fee, "fee", 0, "fee of the transaction, higher fees are proposed first")
	queryCmd.AddCommand(membersCmd)
	queryCmd.AddCommand(heightCmd)
	queryCmd.AddCommand(roundCmd)
	queryCmd.AddCommand(statisticsCmd)
	queryCmd.AddCommand(validatorSetCmd)
	queryCmd.AddCommand(blkByHeightCmd)
	queryCmd.AddCommand(blkByHashCmd)
	queryCmd.AddCommand(pendingTxsCmd)
	queryCmd.AddCommand(peersCmd)
	queryCmd.AddCommand(txCmd)
}

var (
	membersCmd = &cobra.Command{
		Use:   "members",
		Short: "query the status of every member",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Members())
		},
	}

	heightCmd = &cobra.Command{
		Use:   "height --member=0",
		Short: "query the latest finalized height",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Height(member))
		},
	}

	roundCmd = &cobra.Command{
		Use:   "round --member=0",
		Short: "query a snapshot of the current round",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Round(member))
		},
	}

	statisticsCmd = &cobra.Command{
		Use:   "statistics --member=0",
		Short: "query the consensus statistics",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Statistics(member))
		},
	}

	validatorSetCmd = &cobra.Command{
		Use:   "validator-set",
		Short: "query the committee",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ValidatorSet())
		},
	}

	blkByHeightCmd = &cobra.Command{
		Use:   "block-by-height <height> --member=0",
		Short: "query a finalized block by its height, 0 is latest",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.BlockByHeight(member, uint32(argToUint(args[0]))))
		},
	}

	blkByHashCmd = &cobra.Command{
		Use:   "block-by-hash <hash> --member=0",
		Short: "query a finalized block by its hash",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.BlockByHash(member, args[0]))
		},
	}

	pendingTxsCmd = &cobra.Command{
		Use:   "pending --member=0",
		Short: "query the mempool",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Pending(member))
		},
	}

	peersCmd = &cobra.Command{
		Use:   "peers",
		Short: "query the reputation and connectivity of every member",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.PeerInfo())
		},
	}

	txCmd = &cobra.Command{
		Use:   "tx <hex> --fee=1",
		Short: "submit a hex encoded transaction",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			tx, err := lib.StringToBytes(args[0])
			if err != nil {
				l.Fatal(err.Error())
			}
			writeToConsole(client.Transaction(tx, fee))
		},
	}
)

func argToUint(arg string) uint64 {
	i, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		l.Fatal(err.Error())
	}
	return i
}
