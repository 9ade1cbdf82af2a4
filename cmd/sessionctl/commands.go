package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/config"
	"github.com/livekit/livekit-session/pkg/eventfeed"
	"github.com/livekit/livekit-session/pkg/rtc"
	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/simulation"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
)

const shutdownTimeout = 5 * time.Second

func simulate(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	prometheus.Init(conf.Prometheus.ClientName)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Infow("exit requested, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		servers   []*http.Server
		listeners []rtc.Listener
		feed      *eventfeed.Feed
	)
	if conf.Prometheus.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.Prometheus.Port),
			Handler: mux,
		})
	}
	if conf.EventFeed.Port > 0 {
		feed = eventfeed.NewFeed(eventfeed.FeedParams{
			MaxClients:   conf.EventFeed.MaxClients,
			SendBuffer:   conf.EventFeed.SendBuffer,
			WriteTimeout: conf.EventFeed.WriteTimeout,
		})
		listeners = append(listeners, feed)

		mux := http.NewServeMux()
		mux.Handle("/events", feed)
		servers = append(servers, &http.Server{
			Addr:    net.JoinHostPort(conf.EventFeed.BindAddress, strconv.Itoa(int(conf.EventFeed.Port))),
			Handler: mux,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Infow("serving", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "serve %s", srv.Addr)
			}
			return nil
		})
	}

	var summary *simulation.Summary
	g.Go(func() error {
		defer func() {
			if feed != nil {
				feed.Close()
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			for _, srv := range servers {
				_ = srv.Shutdown(shutdownCtx)
			}
		}()

		driver := simulation.NewDriver(simulation.DriverParams{
			Simulation: conf.Simulation,
			Session:    conf.Session,
			Listeners:  listeners,
			Logger:     logger.GetLogger(),
		})
		var err error
		summary, err = driver.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

func printSummary(summary *simulation.Summary) {
	fmt.Printf("Session %s in room %s, ran for %s\n", summary.SessionID, summary.Room, summary.Elapsed.Round(time.Millisecond))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Participant",
		"Track",
		"Kind",
		"Name",
		"State",
		"Transferred",
		"Bitrate",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, ts := range summary.Tracks {
		participant := string(ts.Identity)
		if ts.IsLocal {
			participant += " (local)"
		}
		table.Append([]string{
			participant,
			string(ts.TrackID),
			ts.Kind.String(),
			ts.Name,
			ts.State.String(),
			humanize.Bytes(ts.Bytes),
			formatBitrate(ts.Bitrate),
		})
	}
	table.Render()

	sessionStats := prometheus.GetSessionStats()
	fmt.Printf("Events: %d track published, %d track subscribed, %d bitrate samples\n",
		summary.EventCounts[types.EventTypeTrackPublished],
		summary.EventCounts[types.EventTypeTrackSubscribed],
		summary.EventCounts[types.EventTypeBitrateSampled],
	)
	fmt.Printf("Reconnections: %d, delivery hints sent: %d, stats fetch failures: %d\n",
		summary.Reconnections,
		sessionStats.DeliveryHintsSent,
		sessionStats.StatsFetchFailures,
	)
}

func formatBitrate(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	value, prefix := humanize.ComputeSI(bps)
	return fmt.Sprintf("%s %sbps", humanize.FtoaWithDigits(value, 1), prefix)
}

func printConfig(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(conf)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	fmt.Print(string(out))
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
