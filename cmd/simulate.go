package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/infra/logger"
	"github.com/kilianp07/cariot/simulator"
)

var (
	simCars  int
	simRoute bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish simulated car telemetry and a drive route",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simCars, "cars", 0, "number of cars (overrides simulator.cars)")
	simulateCmd.Flags().BoolVar(&simRoute, "route", true, "publish the drive route on the location topic")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sim := cfg.Simulator
	if simCars > 0 {
		sim.Cars = simCars
	}
	cars, err := simulator.GenerateFleet(sim.Cars, sim.BatteryProfile)
	if err != nil {
		return err
	}
	seed := sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	client, err := connectClient(ctx, cfg, "cariot-sim")
	if err != nil {
		return err
	}
	defer client.Disconnect()

	log := logger.New("simulator")
	fleet := &simulator.Fleet{
		Cars:     cars,
		Codec:    topic.New(cfg.MQTT.TopicNamespace),
		Interval: sim.Interval(),
		Rand:     rand.New(rand.NewSource(seed)),
		Logger:   log,
	}
	log.Infof("simulating %d cars every %s", len(cars), sim.Interval())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fleet.Run(ctx, client)
	}()
	if simRoute {
		start := model.Coordinate{Latitude: sim.StartLatitude, Longitude: sim.StartLongitude}
		route := simulator.NewRoute(start, sim.StepKm, rand.New(rand.NewSource(seed+1)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulator.Drive(ctx, client, route, sim.LocationTopic, sim.LocationInterval(), log)
		}()
	}
	wg.Wait()
	return nil
}
