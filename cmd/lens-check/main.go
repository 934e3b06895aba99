package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eleven-am/product-lens/internal/bootstrap"
	"github.com/eleven-am/product-lens/internal/diagnostics"
)

func main() {
	cfg := bootstrap.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := bootstrap.ProvideLogger(cfg)
	tester := bootstrap.ProvideTester(cfg, bootstrap.ProvideDetectionClient(cfg), bootstrap.ProvideDialer(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+cfg.ConnectTimeout)
	defer cancel()

	report := tester.Run(ctx)

	if os.Getenv("LENS_CHECK_OUTPUT") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(report)
	}

	if !report.Passed {
		os.Exit(1)
	}
}

func printReport(report diagnostics.Report) {
	fmt.Printf("Backend diagnostics (%s)\n", report.StartedAt.Format(time.RFC3339))
	fmt.Println("")
	for _, check := range report.Checks {
		mark := "PASS"
		if !check.OK {
			mark = "FAIL"
		}
		fmt.Printf("  [%s] %-10s %s (%dms)\n", mark, check.Name, check.Target, check.LatencyMS)
		if check.StatusCode != 0 {
			fmt.Printf("         status: %d\n", check.StatusCode)
		}
		if check.Error != "" {
			fmt.Printf("         error:  %s\n", check.Error)
		}
		if check.Hint != "" {
			fmt.Printf("         hint:   %s\n", check.Hint)
		}
	}
	fmt.Println("")
	if report.Passed {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("One or more checks failed.")
	}
}
