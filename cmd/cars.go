package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cariot/api"
	"github.com/kilianp07/cariot/config"
)

var apiURL string

var carsCmd = &cobra.Command{
	Use:   "cars",
	Short: "Inspect the cars known to a running service",
}

var carsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List known cars",
	RunE:  runCarsLs,
}

var carsStatsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Print the snapshot of one car",
	Args:  cobra.ExactArgs(1),
	RunE:  runCarsStats,
}

func init() {
	carsCmd.PersistentFlags().StringVar(&apiURL, "api", "", "service base URL (defaults to http.address)")
	carsCmd.AddCommand(carsLsCmd, carsStatsCmd)
	rootCmd.AddCommand(carsCmd)
}

func baseURL() (string, error) {
	if apiURL != "" {
		return strings.TrimRight(apiURL, "/"), nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	addr := cfg.HTTP.Address
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

func getJSON(ctx context.Context, u string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runCarsLs(cmd *cobra.Command, args []string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}
	var report api.HealthReport
	if err := getJSON(cmd.Context(), base+"/health", &report); err != nil {
		return err
	}
	for _, id := range report.Services.Stats.Cars {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
			return err
		}
	}
	return nil
}

func runCarsStats(cmd *cobra.Command, args []string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}
	var snap map[string]any
	if err := getJSON(cmd.Context(), base+"/car/"+url.PathEscape(args[0])+"/stats", &snap); err != nil {
		return err
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
