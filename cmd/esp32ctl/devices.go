package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices in a device directory",
	Long: `Fetches a devices.json document and prints the device configs the
daemon would build from it.

Examples:
  esp32ctl devices --url http://registry.local/api/v1/registry/devices.json`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sessions of a running daemon",
	Long: `Queries the esp32osc HTTP API and prints one line per session.

Examples:
  esp32ctl status --api http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	devicesURL  string
	devicesPort int
	devicesJSON bool

	statusAPI     string
	statusTimeout time.Duration
)

func init() {
	devicesCmd.Flags().StringVar(&devicesURL, "url", "", "devices.json URL (required)")
	devicesCmd.Flags().IntVar(&devicesPort, "port", esp32.DefaultDeviceListPort, "Port assigned to listed devices")
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print JSON instead of a table")
	_ = devicesCmd.MarkFlagRequired("url")

	statusCmd.Flags().StringVar(&statusAPI, "api", "http://localhost:8080", "Daemon API base URL")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Request timeout")
}

func runDevices(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	loader := esp32.NewDeviceListLoader(devicesURL, devicesPort, newLogger(cmd))
	devices, err := loader.Fetch(commandContext(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if devicesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	return printDeviceConfigs(out, devices)
}

func printDeviceConfigs(w io.Writer, devices []esp32.DeviceConfig) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tPORT")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Name, d.Address, d.Port)
	}
	return tw.Flush()
}

// statusResponse is the subset of GET /api/v1/devices printed by status.
type statusResponse struct {
	Devices     []esp32.DeviceSnapshot `json:"devices"`
	Connected   int                    `json:"connected"`
	Initialized bool                   `json:"initialized"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(commandContext(cmd), statusTimeout)
	defer cancel()

	status, err := fetchStatus(ctx, statusAPI)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), status)
}

func fetchStatus(ctx context.Context, base string) (*statusResponse, error) {
	url := strings.TrimRight(base, "/") + "/api/v1/devices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying %s: status %d", url, resp.StatusCode)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}
	return &status, nil
}

func printStatus(w io.Writer, s *statusResponse) error {
	if !s.Initialized {
		fmt.Fprintln(w, "manager not initialized")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tSTATE\tFIRMWARE\tBATTERY\tRTT")
	for _, d := range s.Devices {
		fw, battery, rtt := "-", "-", "-"
		if d.Info != nil {
			fw = fmt.Sprint(d.Info.FirmwareVersion)
			battery = fmt.Sprintf("%.2fV", d.Info.BatteryVoltage)
		}
		if d.HeartbeatRTT > 0 {
			rtt = d.HeartbeatRTT.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\t%s\t%s\n", d.Name, d.Address, d.Port, d.State, fw, battery, rtt)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d connected\n", s.Connected, len(s.Devices))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
