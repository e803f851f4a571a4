package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/core/command"
	"github.com/kilianp07/cariot/core/ingress"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/infra/logger"
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <payload>",
	Short: "Publish one validated command",
	Args:  cobra.ExactArgs(2),
	RunE:  publishCommand,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func publishCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client, err := connectClient(ctx, cfg, "cariot-publish")
	if err != nil {
		return err
	}
	defer client.Disconnect()

	pub := command.NewPublisher(topic.New(cfg.MQTT.TopicNamespace), client, command.WithLogger(logger.New("publish-command")))
	res := pub.Publish(ctx, args[0], ingress.DecodePayload([]byte(args[1])))
	out, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return err
	}
	if !res.Success {
		return res.Err
	}
	return nil
}
