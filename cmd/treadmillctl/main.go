package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/trailhead-robotics/treadmillctl/internal/admin"
	"github.com/trailhead-robotics/treadmillctl/internal/config"
	"github.com/trailhead-robotics/treadmillctl/internal/link"
	"github.com/trailhead-robotics/treadmillctl/internal/treadmill"
	"github.com/trailhead-robotics/treadmillctl/internal/version"
)

var (
	portFlag           = flag.String("port", "", "Serial port to use (e.g. /dev/ttyUSB0, COM3)")
	baudFlag           = flag.Int("baud", config.DefaultBaudRate, "Serial baud rate")
	readTimeoutFlag    = flag.Duration("read-timeout", config.DefaultReadTimeout, "Timeout for synchronous handshake reads")
	configFile         = flag.String("config", "", "Path to JSON config file overriding the flags above")
	adminListen        = flag.String("admin-listen", config.DefaultAdminListen, "Listen address for the operator HTTP debug surface")
	adminAllowRawWrite = flag.Bool("admin-allow-raw-write", false, "Enable the raw command POST route on the admin surface")
	dryRun             = flag.Bool("dry-run", false, "Use a no-op link instead of a real serial port")
	versionFlag        = flag.Bool("version", false, "Print version information and exit")
	versionShort       = flag.Bool("v", false, "Print version information and exit (shorthand)")
	commandsFile       = flag.String("commands", "", "Path to a newline-delimited file of MotorCommand lines; upload, run once, and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	if *versionFlag || *versionShort {
		fmt.Printf("treadmillctl v%s (git SHA: %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}

	cfg := config.Empty()
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", *configFile, err)
		}
		cfg = loaded
		log.Printf("loaded configuration from %s", *configFile)
	}
	applyFlagOverrides(cfg)
	cfg = cfg.Normalize()

	if !*dryRun && cfg.GetPort() == "" {
		log.Fatal("-port is required unless -dry-run is set")
	}

	var l link.Link
	if *dryRun {
		l = link.NewNoop()
		log.Print("dry-run mode: using a no-op link, no hardware required")
	} else {
		l = link.New(link.OpenFactory{})
	}

	if err := l.Open(cfg.GetPort(), link.Options{BaudRate: cfg.GetBaudRate()}); err != nil {
		log.Fatalf("failed to open link: %v", err)
	}
	defer l.Close()

	controller := treadmill.New(l, cfg.GetReadTimeout())
	controller.SetStatusSink(func(msg string) { log.Printf("status: %s", msg) })

	adminServer := admin.New(controller, l, cfg.GetAdminAllowRawWrite())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	mux := http.NewServeMux()
	adminServer.AttachRoutes(mux)
	httpServer := &http.Server{Addr: cfg.GetAdminListen(), Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("admin debug surface listening on %s", cfg.GetAdminListen())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin HTTP server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("admin HTTP server shutdown error: %v", err)
		}
	}()

	if *commandsFile != "" {
		if err := runOnce(controller, *commandsFile); err != nil {
			log.Fatalf("run failed: %v", err)
		}
		stop()
		wg.Wait()
		return
	}

	<-ctx.Done()
	log.Print("shutting down")
	wg.Wait()
	log.Print("graceful shutdown complete")
}

// applyFlagOverrides fills in cfg fields left nil by -config from the
// corresponding command-line flags, so flags act as defaults a config
// file may override, matching -config's documented precedence.
func applyFlagOverrides(cfg *config.Config) {
	if cfg.Port == nil && *portFlag != "" {
		p := *portFlag
		cfg.Port = &p
	}
	if cfg.BaudRate == nil && *baudFlag != config.DefaultBaudRate {
		b := *baudFlag
		cfg.BaudRate = &b
	}
	if cfg.ReadTimeout == nil && *readTimeoutFlag != config.DefaultReadTimeout {
		d := readTimeoutFlag.String()
		cfg.ReadTimeout = &d
	}
	if cfg.AdminListen == nil && *adminListen != config.DefaultAdminListen {
		a := *adminListen
		cfg.AdminListen = &a
	}
	if cfg.AdminAllowRawWrite == nil && *adminAllowRawWrite {
		v := true
		cfg.AdminAllowRawWrite = &v
	}
}

// runOnce reads MotorCommand lines from path, uploads and runs them to
// completion, and reports the outcome through the controller's status
// sink. Controller reports completion only through the status sink, not
// a return channel, so runOnce installs its own sink that closes a done
// channel on the first "FINISHED" or "stopped successfully" message and
// blocks on it, giving up after 5 minutes.
func runOnce(controller *treadmill.Controller, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open commands file: %w", err)
	}
	defer f.Close()

	var commands []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commands file: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	controller.SetStatusSink(func(msg string) {
		log.Printf("status: %s", msg)
		if strings.Contains(msg, "FINISHED") || strings.Contains(msg, "stopped successfully") {
			once.Do(func() { close(done) })
		}
	})

	if err := controller.RunTreadmill(commands); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("run did not complete within 5 minutes")
	}
}
