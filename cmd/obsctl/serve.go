package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"obsctl/pkg/drivers/focuslynx"
	"obsctl/pkg/drivers/mount"
	"obsctl/pkg/telemetry"
)

// snapshot is the latest polled device state served over HTTP.
type snapshot struct {
	Time    string            `json:"time"`
	Focuser *focuslynx.Status `json:"focuser,omitempty"`
	Mount   *mountState       `json:"mount,omitempty"`
}

type mountState struct {
	Slewing bool              `json:"slewing"`
	Coords  mount.Coordinates `json:"coords"`
}

type statusServer struct {
	mu   sync.Mutex
	last snapshot
}

func (s *statusServer) update(snap snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.last
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Poll device status, publish telemetry and serve it over HTTP",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP port for the status endpoint",
				Value:   8090,
				EnvVars: []string{"OBSCTL_PORT"},
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status poll interval",
				Value: 30 * time.Second,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	foc, err := e.openFocuser(log.WithField("device", "focuser"))
	if err != nil {
		return err
	}
	defer foc.Close()

	m, err := e.openMount(log.WithField("device", "mount"))
	if err != nil {
		return err
	}
	if err := m.Connect(); err != nil {
		return err
	}
	defer m.Disconnect()

	var pub *telemetry.Publisher
	if e.cfg.Telemetry.Host != "" {
		pub, err = telemetry.NewPublisher(telemetry.Config{
			Host:      e.cfg.Telemetry.Host,
			Username:  e.cfg.Telemetry.Username,
			Password:  e.cfg.Telemetry.Password,
			TopicRoot: e.cfg.Telemetry.TopicRoot,
		}, log.StandardLogger())
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	status := &statusServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", status.handleStatus)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: mux,
	}

	ctx, stop := signalContext()
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("Status server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", srv.Addr, err)
		}
	}()

	poll(ctx, c.Duration("interval"), foc, m, pub, status)

	log.Info("Shutting down status server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

// poll queries both devices on the given interval, publishing each round to
// the status server and, when configured, to MQTT. Poll failures are logged
// and the loop carries on; the loop ends when ctx is done.
func poll(ctx context.Context, interval time.Duration, foc *focuslynx.Focuser,
	m mount.Mount, pub *telemetry.Publisher, status *statusServer) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap := snapshot{Time: time.Now().Format(time.RFC3339)}

		if st, err := foc.Status(); err != nil {
			log.Errorf("Focuser status poll failed: %v", err)
		} else {
			snap.Focuser = &st
			if pub != nil {
				if err := pub.PublishFocuser(st); err != nil {
					log.Errorf("Failed to publish focuser status: %v", err)
				}
			}
		}

		slewing, err := m.CheckSlewing()
		if err != nil {
			log.Errorf("Mount status poll failed: %v", err)
		} else {
			ms := &mountState{Slewing: slewing}
			if m.Capabilities().CanSlew {
				if coords, err := m.CheckCoordinates(); err != nil {
					log.Errorf("Mount coordinates poll failed: %v", err)
				} else {
					ms.Coords = coords
				}
			}
			snap.Mount = ms
			if pub != nil {
				if err := pub.PublishMount(ms.Slewing, ms.Coords); err != nil {
					log.Errorf("Failed to publish mount status: %v", err)
				}
			}
		}

		status.update(snap)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
