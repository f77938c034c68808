package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask the assistant a question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		prompt := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/ask", map[string]string{
			"prompt": prompt,
			"kind":   kind,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var buf bytes.Buffer
			buf.ReadFrom(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, buf.String())
		}

		return streamToStdout(resp.Body)
	},
}

// streamToStdout prints SSE chunk events as they arrive.
func streamToStdout(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			fmt.Println()
			return nil
		}

		var event struct {
			Chunk string `json:"chunk"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Error != nil {
			fmt.Println()
			return fmt.Errorf("%s", event.Error.Message)
		}
		fmt.Print(event.Chunk)
	}
	fmt.Println()
	return scanner.Err()
}

var sceneCmd = &cobra.Command{
	Use:   "scene [image]",
	Short: "Analyze an image through the vision model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/scene", map[string]string{
			"image_ref": args[0],
		})
		if err != nil {
			return err
		}

		var result struct {
			Description string `json:"description"`
			Model       string `json:"model"`
			Cached      bool   `json:"cached"`
			DurationMs  int64  `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Description)
		source := "inference"
		if result.Cached {
			source = "cache"
		}
		printStatus("model", "%s", result.Model)
		printStatus("source", "%s (%dms)", source, result.DurationMs)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/status")
		if err != nil {
			return err
		}

		var status struct {
			Pressure struct {
				Level   string `json:"level"`
				Stale   bool   `json:"stale"`
				Reading struct {
					BatteryPct int     `json:"battery_pct"`
					CPUPct     float64 `json:"cpu_pct"`
					TempC      float64 `json:"temp_c"`
				} `json:"reading"`
			} `json:"pressure"`
			Cache struct {
				Hits    uint64  `json:"hits"`
				Misses  uint64  `json:"misses"`
				HitRate float64 `json:"hit_rate"`
				Size    int     `json:"size"`
			} `json:"cache"`
			Scheduler struct {
				InFlight int `json:"in_flight"`
				Queued   int `json:"queued"`
				Limit    int `json:"limit"`
			} `json:"scheduler"`
			Metrics struct {
				TotalRequests int   `json:"total_requests"`
				AvgResponseMs int64 `json:"avg_response_ms"`
			} `json:"metrics"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printSuccess("opticd is running")
		level := status.Pressure.Level
		if status.Pressure.Stale {
			level += " (stale probe)"
		}
		printStatus("pressure", "%s", level)
		printStatus("battery", "%d%%", status.Pressure.Reading.BatteryPct)
		printStatus("cpu", "%.1f%%", status.Pressure.Reading.CPUPct)
		printStatus("temp", "%.1f°C", status.Pressure.Reading.TempC)
		printStatus("sessions", "%d in flight, %d queued (limit %d)",
			status.Scheduler.InFlight, status.Scheduler.Queued, status.Scheduler.Limit)
		printStatus("cache", "%d entries, %.0f%% hit rate (%d hits / %d misses)",
			status.Cache.Size, status.Cache.HitRate*100, status.Cache.Hits, status.Cache.Misses)
		printStatus("requests", "%d total, avg %dms",
			status.Metrics.TotalRequests, status.Metrics.AvgResponseMs)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the response cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/cache/clear", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("response cache cleared")
		return nil
	},
}

func init() {
	askCmd.Flags().String("kind", "text", "query kind: text, voice, or emergency")
	cacheCmd.AddCommand(cacheClearCmd)
}
