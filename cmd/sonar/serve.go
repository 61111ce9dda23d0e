package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sonar/cmd/sonar/console"
	"github.com/mklimuk/sonar/config"
	"github.com/mklimuk/sonar/srf"
)

var serveCmd = cli.Command{
	Name:  "serve",
	Usage: "export readings of the configured sensors as prometheus metrics",
	Flags: withFlags(busFlags, []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: ":9110",
			Usage: "metrics listen address",
		},
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Value:   time.Second,
		},
		&cli.BoolFlag{
			Name:  "mock",
			Usage: "serve random readings without hardware",
		},
	}),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Fail("config error", err)
		}
		if cfg == nil {
			return console.Exit(1, "serve requires --config")
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		exp := newExporter(reg)
		if c.Bool("mock") {
			for _, s := range cfg.Sensors {
				exp.add(s, srf.NewMockRangeSensor(randomRange))
			}
		} else {
			bus, closer, err := openBus(ctx, busSettings(c, cfg))
			if err != nil {
				return console.Fail("bus setup error", err)
			}
			defer closer()
			for _, s := range cfg.Sensors {
				opts := append(s.Options(), srf.WithLogger(slog.Default().With("sensor", s.Name)))
				finder, err := srf.New(bus, s.Variant, opts...)
				if err != nil {
					return console.Fail("sensor setup error", err)
				}
				exp.add(s, finder)
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		serv := &http.Server{
			Addr:    c.String("listen"),
			Handler: mux,
		}
		go func() {
			slog.Info("server listening", "address", serv.Addr)
			if err := serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("stop serving", "error", err)
				stop()
			}
		}()

		exp.run(ctx, c.Duration("interval"))

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return serv.Shutdown(shutdown)
	},
}

func randomRange(ctx context.Context, unit srf.Unit) (uint16, error) {
	cm := 20 + rand.Intn(300)
	switch unit {
	case srf.Inches:
		return uint16(cm * 100 / 254), nil
	case srf.Centimeters:
		return uint16(cm), nil
	default:
		return uint16(cm * 58), nil
	}
}

type exportedSensor struct {
	cfg    config.Sensor
	ranger srf.Ranger
}

// exporter ranges the sensors one after another; SRFs sharing a bus would
// hear each other's bursts if fired together.
type exporter struct {
	sensors  []exportedSensor
	distance *prometheus.GaugeVec
	raw      *prometheus.GaugeVec
	errors   *prometheus.CounterVec
	light    *prometheus.GaugeVec
}

func newExporter(reg prometheus.Registerer) *exporter {
	f := promauto.With(reg)
	return &exporter{
		distance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sonar_distance_meters",
			Help: "Distance to the nearest object",
		}, []string{"sensor"}),
		raw: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sonar_range_raw",
			Help: "Range register value in the configured unit",
		}, []string{"sensor", "unit"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sonar_range_errors_total",
			Help: "Failed ranging attempts",
		}, []string{"sensor"}),
		light: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sonar_light_level",
			Help: "Light sensor reading taken with the last ranging",
		}, []string{"sensor"}),
	}
}

func (e *exporter) add(s config.Sensor, r srf.Ranger) {
	e.sensors = append(e.sensors, exportedSensor{cfg: s, ranger: r})
}

func (e *exporter) collect(ctx context.Context) {
	for _, s := range e.sensors {
		if ctx.Err() != nil {
			return
		}
		r, err := s.ranger.Measure(ctx, s.cfg.UnitByte())
		if err != nil {
			slog.Warn("ranging failed", "sensor", s.cfg.Name, "error", err)
			e.errors.WithLabelValues(s.cfg.Name).Inc()
			continue
		}
		e.raw.WithLabelValues(s.cfg.Name, r.Unit.String()).Set(float64(r.Value))
		e.distance.WithLabelValues(s.cfg.Name).Set(float64(r.Distance()) / float64(physic.Metre))
		if ls, ok := s.ranger.(srf.LightSensor); ok {
			lux, err := ls.ReadLuminosity(ctx)
			if err != nil {
				slog.Warn("light read failed", "sensor", s.cfg.Name, "error", err)
				continue
			}
			e.light.WithLabelValues(s.cfg.Name).Set(float64(lux))
		}
	}
}

func (e *exporter) run(ctx context.Context, interval time.Duration) {
	_ = watch(ctx, interval, 0, func(ctx context.Context) error {
		e.collect(ctx)
		return nil
	})
}
