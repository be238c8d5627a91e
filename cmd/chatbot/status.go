package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/monitor"
)

type statusReport struct {
	Version       string           `json:"version"`
	Conversations int              `json:"conversations"`
	OpenTasks     int              `json:"open_tasks"`
	Host          monitor.Snapshot `json:"host"`
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	format := fs.String("format", "text", "Output format: json|text")
	sortBy := fs.String("sort-by", "cpu", "Top-process sort: cpu|memory")
	timeout := fs.Duration("timeout", 15*time.Second, "Collection timeout")
	_ = fs.Parse(args)

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	if err := a.openStores(); err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report := statusReport{Version: Version}

	convCount, err := a.memoryStore.CountConversations(ctx)
	if err != nil {
		fatalf("count conversations: %v", err)
	}
	report.Conversations = convCount

	open, err := a.taskStore.List(ctx, false)
	if err != nil {
		fatalf("list tasks: %v", err)
	}
	report.OpenTasks = len(open)

	report.Host = monitor.NewService(a.log).Snapshot(ctx, *sortBy)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fatalf("encode report: %v", err)
		}
		fmt.Printf("%s\n", string(b))
	case "", "text":
		fmt.Printf("chatbot %s\n", report.Version)
		fmt.Printf("conversations: %d\n", report.Conversations)
		fmt.Printf("open tasks:    %d\n", report.OpenTasks)
		fmt.Printf("cpu:           %.1f%% of %d core(s)\n", report.Host.CPUUsage, report.Host.CPUCores)
		if len(report.Host.LoadAverage) == 3 {
			fmt.Printf("load:          %.2f %.2f %.2f\n", report.Host.LoadAverage[0], report.Host.LoadAverage[1], report.Host.LoadAverage[2])
		}
		fmt.Printf("network:       %.0f B/s in, %.0f B/s out\n", report.Host.NetworkSpeedReceived, report.Host.NetworkSpeedSent)
		for i, p := range report.Host.Processes {
			if i >= 5 {
				break
			}
			fmt.Printf("  %6d  %-24s %5.1f%%  %d MiB\n", p.PID, p.Name, p.CPUPercent, p.MemoryBytes/(1024*1024))
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid --format: %q (want json|text)\n", *format)
		os.Exit(2)
	}
}
