package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "Live terminal dashboard over a running bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8080",
				Usage: "Base URL of the admin API",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Refresh interval",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.Context, c.String("addr"), c.Duration("interval"))
		},
	}
}

// fetchMetrics reads one snapshot from GET /v1/metrics.
func fetchMetrics(ctx context.Context, client *http.Client, base string) (model.Metrics, error) {
	var m model.Metrics
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/metrics", nil)
	if err != nil {
		return m, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return m, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return m, fmt.Errorf("metrics: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return m, fmt.Errorf("metrics: decode: %w", err)
	}
	return m, nil
}

func counterRows(m model.Metrics) [][]string {
	return [][]string{
		{"counter", "value"},
		{"published", fmt.Sprint(m.EventsPublished)},
		{"delivered", fmt.Sprint(m.Delivered)},
		{"completed", fmt.Sprint(m.Completed)},
		{"failed", fmt.Sprint(m.Failed)},
		{"retried", fmt.Sprint(m.Retried)},
		{"dead lettered", fmt.Sprint(m.DeadLettered)},
		{"expired", fmt.Sprint(m.Expired)},
		{"filter errors", fmt.Sprint(m.FilterErrors)},
		{"in flight", fmt.Sprint(m.InFlightEvents)},
		{"uptime", m.Uptime.Truncate(time.Second).String()},
	}
}

// latencyRows lists subscriptions by descending mean latency.
func latencyRows(m model.Metrics) [][]string {
	ids := make([]string, 0, len(m.Subscriptions))
	for id := range m.Subscriptions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(m.Subscriptions[b].Mean(), m.Subscriptions[a].Mean())
	})

	rows := [][]string{{"subscription", "count", "mean", "max"}}
	for _, id := range ids {
		s := m.Subscriptions[id]
		rows = append(rows, []string{id, fmt.Sprint(s.Count), s.Mean().String(), s.Max.String()})
	}
	return rows
}

func runMonitor(ctx context.Context, addr string, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: terminal: %w", err)
	}
	defer ui.Close()

	counters := widgets.NewTable()
	counters.Title = " bus "
	counters.SetRect(0, 0, 40, 24)

	latency := widgets.NewTable()
	latency.Title = " handler latency "
	latency.SetRect(40, 0, 120, 20)

	status := widgets.NewParagraph()
	status.Title = " " + addr + " "
	status.SetRect(40, 20, 120, 24)

	throughput := widgets.NewSparkline()
	throughput.LineColor = ui.ColorGreen
	spark := widgets.NewSparklineGroup(throughput)
	spark.Title = " completed / tick "
	spark.SetRect(0, 24, 120, 32)

	snapshots := make(chan model.Metrics, 1)
	failures := make(chan error, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client := &http.Client{Timeout: interval}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			m, err := fetchMetrics(ctx, client, addr)
			if err != nil {
				select {
				case failures <- err:
				default:
				}
			} else {
				select {
				case snapshots <- m:
				default:
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		var (
			last   uint64
			primed bool
		)
		events := ui.PollEvents()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-events:
				if e.ID == "q" || e.ID == "<C-c>" {
					stop()
					return nil
				}
			case err := <-failures:
				status.Text = "[unreachable](fg:red) " + err.Error()
				ui.Render(status)
			case m := <-snapshots:
				// The first snapshot only sets the baseline.
				if primed && m.Completed >= last {
					throughput.Data = append(throughput.Data, float64(m.Completed-last))
					if len(throughput.Data) > 116 {
						throughput.Data = throughput.Data[1:]
					}
				}
				last, primed = m.Completed, true

				counters.Rows = counterRows(m)
				latency.Rows = latencyRows(m)
				status.Text = "[connected](fg:green) refreshed " + time.Now().Format(time.TimeOnly)
				ui.Render(counters, latency, status)
				if len(throughput.Data) > 0 {
					ui.Render(spark)
				}
			}
		}
	})

	return g.Wait()
}
