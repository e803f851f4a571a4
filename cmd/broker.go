package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/infra/broker"
	"github.com/kilianp07/cariot/infra/logger"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the embedded MQTT broker for local development",
	RunE:  runBroker,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
}

func runBroker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b, err := broker.New(cfg.Broker)
	if err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	log := logger.New("broker")
	log.Infof("broker listening on %s", b.URL())
	<-ctx.Done()
	log.Infof("broker stopping after %d messages", b.Published())
	return b.Close()
}
