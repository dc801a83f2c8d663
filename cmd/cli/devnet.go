package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/canopy-network/dbft/cmd/rpc"
	"github.com/canopy-network/dbft/controller"
	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	observers      = 0
	fromKeystore   = false
	reportInterval = 10 * time.Second
)

var devnetCmd = &cobra.Command{
	Use:   "devnet --observers=1 --from-keystore",
	Short: "run a whole committee in this process",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		defer stop()
		if err := startDevnet(ctx); err != nil {
			l.Fatal(err.Error())
		}
		l.Info("Devnet stopped")
	},
}

func init() {
	devnetCmd.Flags().IntVar(&observers, "observers", 0, "number of non-voting members")
	devnetCmd.Flags().BoolVar(&fromKeystore, "from-keystore", false, "use the keystore keys in nickname order instead of fresh keys")
	devnetCmd.Flags().BoolVar(&useBLS, "bls", false, "generate BLS12-381 validator keys")
	devnetCmd.Flags().StringVar(&pwd, "password", "", "keystore password, prompted for when empty")
	devnetCmd.Flags().DurationVar(&reportInterval, "report-interval", reportInterval, "how often progress is logged, 0 disables it")
}

// startDevnet() runs the committee and its rpc until the context is cancelled
func startDevnet(ctx context.Context) error {
	if err := config.Validate(); err != nil {
		return err
	}
	keys, err := devnetKeys()
	if err != nil {
		return err
	}
	metrics := lib.NewMetricsServer(config.MetricsConfig, l)
	node, e := controller.NewNode(config, keys, observers, metrics, l)
	if e != nil {
		return e
	}
	l.Infof("Running %d validators (f = %d, m = %d) and %d observers", node.Validators.N(), node.Validators.F(),
		node.Validators.M(), observers)
	server := rpc.NewServer(node, config, l)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(ctx) })
	g.Go(func() error { return server.Start(ctx) })
	if reportInterval > 0 {
		g.Go(func() error { report(ctx, node); return nil })
	}
	return g.Wait()
}

// devnetKeys() returns the validator keys of the committee
func devnetKeys() (keys []crypto.PrivateKeyI, err error) {
	n := config.ValidatorCount
	if fromKeystore {
		if keys, err = loadKeys(DataDir, getPassword()); err != nil {
			return nil, err
		}
		if len(keys) < n {
			return nil, fmt.Errorf("the keystore holds %d keys, the committee needs %d", len(keys), n)
		}
		return keys[:n], nil
	}
	for i := 0; i < n; i++ {
		var k crypto.PrivateKeyI
		if useBLS {
			k, err = crypto.NewBLS12381PrivateKey()
		} else {
			k, err = crypto.NewEd25519PrivateKey()
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return
}

// report() logs the progress of the first member on every tick
func report(ctx context.Context, node *controller.Node) {
	p := message.NewPrinter(language.English)
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			member := node.Controllers[0]
			stats := member.Engine.Statistics()
			l.Info(p.Sprintf("Height %d | blocks %d | view changes %d | timeouts %d | dropped %d | round %s ± %s",
				member.Ledger.Height(), stats.BlocksCommitted, stats.ViewChanges, stats.Timeouts, stats.DroppedMessages,
				stats.AverageRoundDuration.Round(time.Millisecond), stats.RoundDurationStdDev.Round(time.Millisecond)))
		}
	}
}
