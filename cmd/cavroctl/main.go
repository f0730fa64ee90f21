// Command cavroctl drives Tecan Cavro syringe pumps from the command line.
//
// Usage:
//
//	cavroctl [-config cavro.yaml] [-metrics :9100] [-v] <command> [args]
//
// Commands:
//
//	scan                          probe local serial ports for pumps
//	status   <pump>               read plunger, valve and speeds
//	init     <pump>               initialize plunger and valve drives
//	extract  <pump> <port> <ul>   draw a volume through a port
//	dispense <pump> <port> <ul>   push a volume out through a port
//	waste    <pump> <port> <ul>   extract, emptying to the waste port when full
//	raw      <pump> <commands>    send a raw command string
//	watch    <pump> [interval]    poll the pump until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-cavro/internal/config"
	"github.com/arloliu/go-cavro/logger"
	"github.com/arloliu/go-cavro/syringe"
	"github.com/arloliu/go-cavro/transport"
)

var log logger.Logger

func main() {
	configFile := flag.String("config", "cavro.yaml", "configuration file")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "scan" {
		log = logger.NewSlog(levelFor(*verbose, "info"), false)
		if err := runScan(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log = logger.NewSlog(levelFor(*verbose, cfg.Log.Level), false)
	logger.SetLogger(log)

	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}

	if err := run(ctx, cfg, cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(flag.CommandLine.Output(), "usage: cavroctl [flags] scan|status|init|extract|dispense|waste|raw|watch [args]")
	flag.PrintDefaults()
}

func levelFor(verbose bool, name string) logger.Level {
	if verbose {
		return logger.DebugLevel
	}
	lvl, _ := config.ParseLevel(name)

	return lvl
}

func runScan(ctx context.Context) error {
	found, err := transport.Scan(ctx, transport.WithScanLogger(log))
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no pumps found")
		return nil
	}
	for _, f := range found {
		fmt.Printf("%s\taddress %d\t%s\n", f.Port, f.Address, f.Description)
	}

	return nil
}

// session is one pump opened from the configuration.
type session struct {
	name string
	pump *syringe.Pump
	link transport.Link
}

func openSession(cfg *config.Config, reg *transport.Registry, name string) (*session, error) {
	pc, ok := cfg.Pumps[name]
	if !ok {
		return nil, fmt.Errorf("unknown pump %q", name)
	}
	lc := cfg.Links[pc.Link]

	linkCfg, err := transport.NewLinkConfig(lc.Options(transport.WithLogger(log))...)
	if err != nil {
		return nil, err
	}

	var link transport.Link
	switch lc.Type {
	case config.LinkNode:
		nl, err := transport.NewNodeLink(lc.Node, pc.Address, linkCfg)
		if err != nil {
			return nil, err
		}
		link = nl
	default:
		sl, err := transport.NewSerialLink(reg, lc.Port, pc.Address, linkCfg)
		if err != nil {
			return nil, err
		}
		link = sl
	}

	pumpCfg, err := pc.SyringeConfig(syringe.WithLogger(log))
	if err != nil {
		_ = link.Close()
		return nil, err
	}
	pump, err := syringe.New(link, pumpCfg)
	if err != nil {
		_ = link.Close()
		return nil, err
	}

	return &session{name: name, pump: pump, link: link}, nil
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: missing pump name", cmd)
	}

	reg := transport.NewRegistry(transport.WithRegistryLogger(log))
	defer reg.Close()

	s, err := openSession(cfg, reg, args[0])
	if err != nil {
		return err
	}
	defer s.pump.Close()

	if cfg.Metrics.Listen != "" {
		if err := serveMetrics(ctx, cfg.Metrics.Listen, s); err != nil {
			return err
		}
	}

	args = args[1:]
	switch cmd {
	case "status":
		return status(ctx, s)
	case "init":
		return s.pump.Init(ctx)
	case "extract", "dispense", "waste":
		return move(ctx, s, cmd, args)
	case "raw":
		return raw(ctx, s, args)
	case "watch":
		return watch(ctx, s, args)
	}

	return fmt.Errorf("unknown command %q", cmd)
}

func serveMetrics(ctx context.Context, addr string, s *session) error {
	reg := prometheus.NewRegistry()
	if err := transport.RegisterMetrics(reg, s.name, s.link.Metrics()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info("serving metrics", "addr", addr)

	return nil
}

func status(ctx context.Context, s *session) error {
	if err := s.pump.SyncState(ctx); err != nil {
		return err
	}
	buf, err := s.pump.BufferStatus(ctx)
	if err != nil {
		return err
	}

	st := s.pump.State()
	fmt.Printf("plunger\t%d\nport\t%d\nspeeds\t%d/%d/%d pulses/sec\nbuffer\t%d\n",
		st.PlungerPos, st.ValvePort, st.StartSpeed, st.TopSpeed, st.CutoffSpeed, buf)

	return nil
}

func move(ctx context.Context, s *session, cmd string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%s: want <port> <ul>", cmd)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%s: port: %w", cmd, err)
	}
	ul, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%s: volume: %w", cmd, err)
	}

	var wait time.Duration
	switch cmd {
	case "extract":
		wait, err = s.pump.Extract(ctx, port, ul, syringe.Execute())
	case "dispense":
		wait, err = s.pump.Dispense(ctx, port, ul, syringe.Execute())
	default:
		wait, err = s.pump.ExtractToWaste(ctx, port, ul, 0)
	}
	if err != nil {
		return err
	}

	return settle(ctx, wait)
}

// raw sends a command string unchanged and resynchronizes the pump state
// when it was executed.
func raw(ctx context.Context, s *session, args []string) error {
	if len(args) != 1 {
		return errors.New("raw: want <commands>")
	}

	resp, err := s.link.SendRcv(ctx, []byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("status\t%s\ndata\t%s\n", resp.Status, resp.Text())
	if code := resp.Status.ErrorCode(); code != 0 {
		return s.pump.Config().Model().Error(code)
	}

	if !strings.HasSuffix(args[0], "R") {
		return nil
	}
	if err := s.pump.ResetChain(ctx, true, false); err != nil {
		return err
	}
	if err := s.pump.WaitReady(ctx); err != nil {
		return err
	}

	return s.pump.SyncState(ctx)
}

func watch(ctx context.Context, s *session, args []string) error {
	interval := time.Second
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("watch: interval: %w", err)
		}
		interval = d
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.pump.SyncState(ctx); err != nil {
			log.Warn("status poll failed", "pump", s.name, "error", err)
		} else {
			st := s.pump.State()
			log.Info("pump state", "pump", s.name, "plunger", st.PlungerPos, "port", st.ValvePort, "topSpeed", st.TopSpeed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// settle waits out the estimated execution time of a command.
func settle(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	fmt.Printf("estimated completion in %v\n", wait.Round(time.Millisecond))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
