// Command unireq sends HTTP requests through a policy chain built from a
// YAML file and UNIREQ_* environment variables, and prints chains for
// inspection.
//
//	unireq get https://api.example.com/items
//	unireq post -data '{"name":"x"}' -H 'Content-Type: application/json' /items
//	unireq inspect -config unireq.yaml -format tree
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	unireq "github.com/oorabona/unireq-sub005"
	"github.com/oorabona/unireq-sub005/config"
	"github.com/oorabona/unireq-sub005/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

var methods = map[string]string{
	"get":     http.MethodGet,
	"head":    http.MethodHead,
	"delete":  http.MethodDelete,
	"options": http.MethodOptions,
	"post":    http.MethodPost,
	"put":     http.MethodPut,
	"patch":   http.MethodPatch,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintln(stdout, unireq.GetVersion())
		return 0
	case "inspect":
		return runInspect(rest, stdout, stderr)
	case "request":
		return runRequest(ctx, "", rest, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}
	if method, ok := methods[cmd]; ok {
		return runRequest(ctx, method, rest, stdout, stderr)
	}

	color.New(color.FgRed).Fprintf(stderr, "unknown command %q\n", cmd)
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: unireq <command> [flags] [url]

commands:
  get, head, delete, options, post, put, patch   send a request
  request -X METHOD                               send a request with any method
  inspect                                         print the configured policy chain
  version                                         print version information`)
}

// headerFlags collects repeated -H "Key: Value" flags.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q must look like 'Key: Value'", v)
	}
	*h = append(*h, v)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	return config.NewLoader().WithConfigPath(path).Load()
}

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	format := fs.String("format", "tree", "output format: tree or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(stderr, err)
		return 1
	}
	// inspection never touches the network
	cfg.Cache.Backend = "memory"
	cfg.Audit.Sink = "zap"

	client, closer, err := config.Build(context.Background(), cfg, zap.NewNop(), nil)
	if err != nil {
		fail(stderr, err)
		return 1
	}
	defer closer()

	out, err := unireq.Inspect(client, unireq.InspectOptions{Format: unireq.Format(*format)})
	if err != nil {
		fail(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, out)
	return 0
}

func runRequest(ctx context.Context, method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	data := fs.String("data", "", "request body; @file reads it from a file")
	include := fs.Bool("i", false, "print the status line and response headers")
	verbose := fs.Bool("v", false, "print timing and the policy chain to stderr")
	repeat := fs.Int("repeat", 1, "send the request this many times")
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address until interrupted")
	explicit := fs.String("X", "", "request method (request command only)")
	var headers headerFlags
	fs.Var(&headers, "H", "request header 'Key: Value' (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if method == "" {
		method = strings.ToUpper(*explicit)
		if method == "" {
			method = http.MethodGet
		}
	}
	if fs.NArg() != 1 {
		color.New(color.FgRed).Fprintln(stderr, "exactly one url is required")
		return 2
	}
	target := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(stderr, err)
		return 1
	}
	if *verbose {
		cfg.HTTP.Timing = true
	}

	logger := config.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		fail(stderr, err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	var registry *prometheus.Registry
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	client, closer, err := config.Build(ctx, cfg, logger, registerer(registry))
	if err != nil {
		fail(stderr, err)
		return 1
	}
	defer closer()

	if *verbose {
		tree, _ := unireq.Inspect(client, unireq.InspectOptions{Format: unireq.FormatTree})
		color.New(color.FgCyan).Fprintln(stderr, tree)
	}

	var body any
	if *data != "" {
		raw, err := readData(*data)
		if err != nil {
			fail(stderr, err)
			return 1
		}
		body = raw
	}

	var opts []unireq.RequestOption
	for _, h := range headers {
		k, v, _ := strings.Cut(h, ":")
		opts = append(opts, unireq.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}

	var srv *http.Server
	if registry != nil {
		srv = serveMetrics(*metricsAddr, registry, stderr)
	}

	code := 0
	for i := 0; i < max(*repeat, 1); i++ {
		req, err := client.NewRequest(method, target, opts...)
		if err != nil {
			fail(stderr, err)
			return 1
		}
		if body != nil {
			req = req.WithBody(body)
		}

		resp, err := client.Do(ctx, req)
		if err != nil {
			fail(stderr, err)
			code = 1
			continue
		}
		printResponse(stdout, resp, *include)
		if *verbose {
			printTiming(stderr, resp)
		}
		if !resp.OK() {
			code = 1
		}
	}

	if srv != nil {
		color.New(color.FgGreen).Fprintf(stderr, "serving metrics on http://%s/metrics, interrupt to stop\n", *metricsAddr)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return code
}

// registerer keeps a nil *Registry from becoming a non-nil interface.
func registerer(r *prometheus.Registry) prometheus.Registerer {
	if r == nil {
		return nil
	}
	return r
}

func serveMetrics(addr string, registry *prometheus.Registry, stderr io.Writer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			color.New(color.FgRed).Fprintf(stderr, "metrics server: %v\n", err)
		}
	}()
	return srv
}

func readData(data string) ([]byte, error) {
	if path, ok := strings.CutPrefix(data, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(data), nil
}

func printResponse(w io.Writer, resp *unireq.Response, include bool) {
	if include {
		status := color.New(color.FgGreen, color.Bold)
		if !resp.OK() {
			status = color.New(color.FgRed, color.Bold)
		}
		status.Fprintf(w, "%d %s\n", resp.StatusCode, resp.Status)

		keys := make([]string, 0, len(resp.Header))
		for k := range resp.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s: %s\n", color.CyanString(k), strings.Join(resp.Header[k], ", "))
		}
		fmt.Fprintln(w)
	}
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
		if resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func printTiming(w io.Writer, resp *unireq.Response) {
	if resp.Timing == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", color.YellowString("total"), resp.Timing.Total)
	names := make([]string, 0, len(resp.Timing.Marks))
	for name := range resp.Timing.Marks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return resp.Timing.Marks[names[i]] < resp.Timing.Marks[names[j]] })
	for _, name := range names {
		fmt.Fprintf(w, "  %s +%v\n", name, resp.Timing.Marks[name])
	}
}

func fail(w io.Writer, err error) {
	color.New(color.FgRed).Fprintln(w, describeError(err))
}

// describeError renders ClientErrors with their type and HTTP context.
func describeError(err error) string {
	var ce *unireq.ClientError
	if !errors.As(err, &ce) {
		return "error: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s error: %s", strings.ToLower(ce.Type), ce.Message)
	if ce.Method != "" {
		fmt.Fprintf(&b, "\n  request: %s %s", ce.Method, ce.URL)
	}
	if ce.StatusCode > 0 {
		fmt.Fprintf(&b, "\n  status:  %d", ce.StatusCode)
	}
	if ce.Attempt > 0 {
		fmt.Fprintf(&b, "\n  attempt: %d", ce.Attempt)
	}
	if ce.Cause != nil {
		fmt.Fprintf(&b, "\n  cause:   %v", ce.Cause)
	}
	return b.String()
}
