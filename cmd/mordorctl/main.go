// Command mordorctl is a minimal demonstration CLI exercising the
// pipelined HTTP/1.x client end to end: it is not a server and carries no
// GUI, consistent with spec.md's non-goals on those surfaces.
package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/corvus-oss/mordor"
	"github.com/corvus-oss/mordor/config"
	"github.com/corvus-oss/mordor/httpc"
	"github.com/corvus-oss/mordor/logging"
	"github.com/corvus-oss/mordor/metrics"
	"github.com/corvus-oss/mordor/stream"
)

var cfg = config.New()

func main() {
	root := &cobra.Command{
		Use:   "mordorctl",
		Short: "Drive the pipelined HTTP/1.x client built on the Fiber/Scheduler substrate.",
	}
	root.PersistentFlags().String("config", "", "path to a config file")
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(newGetCmd(), newBenchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newGetCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Issue one pipelined GET and print the response body.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfig(cmd)
			cc, sched, reg, err := dial(args[0])
			if err != nil {
				return err
			}
			defer sched.Stop()
			cc.SetDeadline(timeout)

			req, err := cc.Request("GET", requestURI(args[0]), nil, httpc.FramingIdentity, 0)
			if err != nil {
				return err
			}
			resp, err := req.Response()
			if err != nil {
				return err
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d\n", resp.Proto, resp.StatusCode)
			os.Stdout.Write(body)
			fmt.Println()
			printMetrics(reg)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "read/write deadline on the connection (0 disables)")
	return cmd
}

func newBenchCmd() *cobra.Command {
	var n int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "bench <url> -n N",
		Short: "Issue N pipelined GETs on one connection and report completion order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfig(cmd)
			cc, sched, reg, err := dial(args[0])
			if err != nil {
				return err
			}
			defer sched.Stop()
			cc.SetDeadline(timeout)

			uri := requestURI(args[0])
			reqs := make([]*httpc.ClientRequest, n)
			for i := 0; i < n; i++ {
				req, err := cc.Request("GET", uri, nil, httpc.FramingIdentity, 0)
				if err != nil {
					return err
				}
				reqs[i] = req
			}

			var mu sync.Mutex
			var order []int
			var wg sync.WaitGroup
			wg.Add(n)
			start := time.Now()
			for i, req := range reqs {
				i, req := i, req
				sched.ScheduleFunc(func() {
					defer wg.Done()
					if err := req.Finish(); err != nil {
						fmt.Fprintf(os.Stderr, "request %d: %v\n", i, err)
						return
					}
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				}, mordor.AnyThread)
			}
			wg.Wait()
			elapsed := time.Since(start)

			fmt.Printf("completed %d/%d requests in %s, order: %v\n", len(order), n, elapsed, order)
			printMetrics(reg)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "number of pipelined requests to issue")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "read/write deadline on the connection (0 disables)")
	return cmd
}

func applyConfig(cmd *cobra.Command) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		_ = cfg.ReadInConfig(path)
	}
	cfg.ApplyLevel(logging.Root())
	sinks := cfg.Sinks()
	var logSinks []logging.LogSink
	for _, s := range sinks {
		if s == config.SinkStdout {
			logSinks = append(logSinks, logging.NewStdoutSink())
		}
	}
	if len(logSinks) > 0 {
		logging.Root().SetSinks(logSinks...)
	}
}

// dial opens one connection and wires it, and the Scheduler driving it,
// to a fresh metrics registry: every get/bench invocation reports its own
// mordor_scheduler_* and mordor_client_requests_* series rather than
// sharing process-global counters across unrelated runs.
func dial(rawURL string) (*httpc.ClientConnection, *mordor.Scheduler, *prometheus.Registry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, nil, err
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	conn, err := net.Dial("tcp", host)
	if err != nil {
		return nil, nil, nil, err
	}
	reg := prometheus.NewRegistry()
	coll := metrics.New(reg)
	sched := mordor.NewScheduler(4, false)
	sched.SetMetrics(coll)
	cc := httpc.NewClientConnection(stream.NewNetStream(conn), sched)
	cc.SetMetrics(coll)
	return cc, sched, reg, nil
}

// printMetrics dumps every mordor_* series gathered from reg, one line per
// counter/gauge sample. There is no metrics non-goal excluding this from
// spec.md, and this is the CLI's only consumer of the metrics package, so
// this stays a flat text dump rather than standing up an HTTP /metrics
// endpoint for a one-shot command process to serve.
func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			fmt.Printf("%s%s %v\n", mf.GetName(), labelSuffix(m), value)
		}
	}
}

func labelSuffix(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func requestURI(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	uri := u.Path
	if uri == "" {
		uri = "/"
	}
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}
	return uri
}
