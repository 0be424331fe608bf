package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/arduimu/internal/config"
	"github.com/banshee-data/arduimu/internal/imu"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/transport"
	"github.com/banshee-data/arduimu/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to an intake config JSON file (defaults are used when empty)")
	port       = flag.String("port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode)")
	baud       = flag.Int("baud", transport.DefaultBaudRate, "Serial baud rate")
	mode       = flag.String("mode", "binary", "Wire format: binary or text")
	sensor     = flag.Int("sensor", 0, "Sensor id to monitor")
	devMode    = flag.Bool("dev", false, "Stream simulated frames instead of opening hardware")
	listen     = flag.String("listen", ":8081", "Debug HTTP listen address (empty disables)")
	interval   = flag.Duration("interval", 500*time.Millisecond, "Polling interval")
	versionF   = flag.Bool("version", false, "Print version and exit")
)

// loadIntake reads the config file if one is given and lets explicitly set
// flags override it.
func loadIntake(path string, set map[string]bool) (*config.IntakeConfig, error) {
	cfg := config.DefaultIntakeConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadIntakeConfig(path); err != nil {
			return nil, err
		}
	}
	if set["port"] {
		cfg.Port = port
	}
	if set["baud"] {
		cfg.BaudRate = baud
	}
	if set["mode"] {
		cfg.Mode = mode
	}
	if set["sensor"] {
		cfg.SensorIDs = []int{*sensor}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// monitor polls the device once per tick the way a render loop would.
type monitor struct {
	dev     *imu.Device
	sensors []int
	windows map[int]*imu.LatencyWindow
	armed   map[int]bool
}

func newMonitor(dev *imu.Device, sensors []int, window int) *monitor {
	m := &monitor{
		dev:     dev,
		sensors: sensors,
		windows: make(map[int]*imu.LatencyWindow, len(sensors)),
		armed:   make(map[int]bool, len(sensors)),
	}
	for _, id := range sensors {
		m.windows[id] = imu.NewLatencyWindow(window)
	}
	return m
}

func (m *monitor) tick() {
	if attempted, err := m.dev.Reconnect(m.sensors...); err != nil {
		log.Printf("reconnect failed: %v", err)
	} else if attempted {
		log.Printf("reconnected")
		clear(m.armed)
	}

	for _, id := range m.sensors {
		if _, ok := m.dev.LastPacket(id, packet.VariantOrientation); !ok {
			continue
		}
		// the first sample after (re)connecting becomes the reference
		if !m.armed[id] {
			m.dev.ResetRotation(id)
			m.armed[id] = true
		}

		w := m.windows[id]
		w.Add(m.dev.LastLatency(id, packet.VariantOrientation))

		q := m.dev.Orientation(id)
		yaw := m.dev.RotationChange(id)
		if a, ok := m.dev.UnwoundAcceleration(id); ok {
			log.Printf("sensor %d q=(%.3f %.3f %.3f %.3f) yaw=%+.1f° accel=(%.2f %.2f %.2f) latency=%.1fms",
				id, q.Real, q.Imag, q.Jmag, q.Kmag, yaw, a.X, a.Y, a.Z, w.Mean())
		} else {
			log.Printf("sensor %d q=(%.3f %.3f %.3f %.3f) yaw=%+.1f° latency=%.1fms",
				id, q.Real, q.Imag, q.Jmag, q.Kmag, yaw, w.Mean())
		}
	}
}

func main() {
	flag.Parse()

	if *versionF {
		fmt.Println("imu-monitor", version.String())
		return
	}
	if *interval <= 0 {
		log.Fatal("Polling interval must be positive")
	}

	intake, err := loadIntake(*configPath, setFlags())
	if err != nil {
		log.Fatalf("failed to load intake config: %v", err)
	}
	cfg := imu.ConfigFromIntake(intake)

	var factory transport.SerialPortFactory
	if *devMode {
		sim := newSimulator(cfg.SensorIDs[0], cfg.Reader.Mode, cfg.Reader.FieldDelimiters, 20)
		factory = transport.SimulatedPortFactory{Interval: 20 * time.Millisecond, Next: sim.next}
	}

	dev := imu.NewDevice(cfg, factory, nil)
	if err := dev.Open(intake.GetPort(), intake.GetBaudRate()); err != nil {
		// Reconnect retries on the polling loop
		log.Printf("failed to open %s: %v", intake.GetPort(), err)
	} else {
		log.Printf("opened %s at %d baud (%s)", intake.GetPort(), intake.GetBaudRate(), cfg.Reader.Mode)
	}
	defer dev.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m := newMonitor(dev, cfg.SensorIDs, intake.GetLatencyWindow())
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-ctx.Done():
				log.Print("monitor routine terminated")
				return
			}
		}
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			dev.AttachAdminRoutes(mux)

			server := &http.Server{
				Addr:    *listen,
				Handler: mux,
			}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}

			log.Printf("HTTP server routine stopped")
		}()
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
