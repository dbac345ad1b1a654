package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/accel.relay/internal/channel"
	"github.com/banshee-data/accel.relay/internal/config"
	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/pose"
	"github.com/banshee-data/accel.relay/internal/sensor"
	"github.com/banshee-data/accel.relay/internal/server"
	"github.com/banshee-data/accel.relay/internal/timeutil"
	"github.com/banshee-data/accel.relay/internal/version"
)

// relay is the assembled sensor side of the process.
type relay struct {
	hub     *sensor.Hub
	source  sensor.Source
	factory *channel.Factory
}

// newRelay builds the sensor backend, hub and channel factory. A relay
// always serves the accelerometer channel, so a configured sensor of any
// other type fails with sensor.ErrSensorNotFound.
func newRelay(cfg *config.Config, clock timeutil.Clock) (*relay, error) {
	typ, err := cfg.SensorType()
	if err != nil {
		return nil, err
	}
	ext, err := cfg.Extrinsics()
	if err != nil {
		return nil, err
	}
	poses, err := pose.New(cfg.Pose)
	if err != nil {
		return nil, err
	}

	hub := sensor.NewHub(cfg.Sensor.QueueDepth)
	reg := sensor.NewRegistry()
	if err := reg.Register(sensor.NewDevice(typ, hub, cfg.ConsentGate(clock), ext)); err != nil {
		return nil, err
	}
	factory, err := channel.NewFactory(reg, sensor.TypeAccelerometer, poses)
	if err != nil {
		return nil, err
	}

	host := sensor.NewHostClock(clock)
	var src sensor.Source
	switch cfg.Sensor.Backend {
	case config.BackendSerial:
		src, err = sensor.OpenSerialSource(cfg.Sensor.Serial.Path, cfg.Sensor.Serial.PortOptions, host)
		if err != nil {
			return nil, err
		}
	default:
		src = sensor.NewSyntheticSource(cfg.Sensor.Synthetic, clock, host)
	}
	return &relay{hub: hub, source: src, factory: factory}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	var desc config.Desc
	if err := desc.Parse(cmd); err != nil {
		return err
	}
	desc.PostParse()
	cfg := desc.Opt
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := monitoring.Logger("main")
	monitoring.Logf("starting %s", version.String())

	r, err := newRelay(&cfg, timeutil.RealClock{})
	if errors.Is(err, sensor.ErrSensorNotFound) {
		logger.WithError(err).Fatal("sensor unavailable")
	}
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{Address: cfg.Listen, Factory: r.factory})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sensor monitor. When the source dies the hub closes, which ends every
	// streaming session.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer r.source.Close()
		if err := r.hub.Monitor(ctx, r.source); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("sensor monitor stopped")
		}
		r.hub.Close()
		logger.Info("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			logger.WithError(err).Error("relay server stopped")
			stop()
		}
		logger.Info("relay server terminated")
	}()

	if cfg.AdminListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runAdmin(ctx, cfg.AdminListen, srv, r.hub, logger)
		}()
	}

	if cfg.HealthListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			health := server.NewHealthServer(func() bool { return r.hub.Stats().Running })
			if err := health.ListenAndServe(ctx, cfg.HealthListen); err != nil {
				logger.WithError(err).Error("health server stopped")
			}
		}()
	}

	wg.Wait()
	logger.Info("graceful shutdown complete")
	return nil
}

func runAdmin(ctx context.Context, addr string, srv *server.Server, hub *sensor.Hub, logger *log.Entry) {
	mux := http.NewServeMux()
	srv.AttachAdminRoutes(mux, hub)
	admin := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("admin server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("admin server shutdown")
		admin.Close()
	}
	logger.Info("admin server terminated")
}
