package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
)

func main() {
	var (
		target  string
		period  time.Duration
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "round-watch",
		Short: "Print round and vote coordinate changes of a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
			if !verbose {
				logger = log.NewFilter(logger, log.AllowInfo())
			}
			w := newWatcher(target, period)
			w.SetLogger(logger.With("target", target))
			if err := w.Start(); err != nil {
				return err
			}
			tmos.TrapSignal(logger, w.Stop)
			select {}
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:26657", "节点rpc地址")
	cmd.Flags().DurationVar(&period, "period", time.Second, "查询间隔")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "打印debug日志")

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
