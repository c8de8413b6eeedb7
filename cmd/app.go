/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/assets"
	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/discovery"
	"github.com/loqalabs/loqa-display-go/internal/display"
	"github.com/loqalabs/loqa-display-go/internal/fetch"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	natssub "github.com/loqalabs/loqa-display-go/internal/nats"
	"github.com/loqalabs/loqa-display-go/internal/player"
	"github.com/loqalabs/loqa-display-go/internal/scheduler"
	"github.com/loqalabs/loqa-display-go/internal/system"
	"github.com/loqalabs/loqa-display-go/internal/transport"
	"github.com/loqalabs/loqa-display-go/internal/update"
	"github.com/spf13/afero"
)

// restarter is what the transports and the update task use to restart.
type restarter interface {
	Restart(reason string)
	BeforeRestart(fn func())
}

// networkWatcher reports network readiness and its transitions.
type networkWatcher interface {
	IsUp() bool
	Watch(ctx context.Context, onUp, onDown func())
}

type options struct {
	out        io.Writer
	logOut     io.Writer
	fs         afero.Fs
	splashHold time.Duration
	restarter  restarter
	network    networkWatcher
	shutdown   time.Duration
}

func defaultOptions(out io.Writer) options {
	return options{
		out:        out,
		logOut:     os.Stderr,
		fs:         afero.NewOsFs(),
		splashHold: 2 * time.Second,
		restarter:  system.NewProcessRestarter(500 * time.Millisecond),
		network:    system.NewInterfaceMonitor(2 * time.Second),
		shutdown:   3 * time.Second,
	}
}

// run wires the display together and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	logging.Setup(cfg.Log.Level, cfg.Log.JSON, opts.logOut)
	log := logging.For("main")

	kind, err := cfg.Source.Kind()
	if err != nil {
		return err
	}

	log.Infof("🚀 Starting Loqa Display %s", Version)
	log.Infof("📋 Display ID: %s (%dx%d)", cfg.Display.ID, cfg.Display.Width, cfg.Display.Height)
	log.Infof("🎯 Source: %q (%s)", cfg.Source.URL, kindLabel(kind))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	library, err := assets.NewLibrary(cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return fmt.Errorf("failed to render built-in assets: %w", err)
	}

	var sink display.Sink
	if cfg.Display.Preview {
		sink = display.NewTerminal(cfg.Display.Width, cfg.Display.Height, opts.out)
	} else {
		sink = display.NewNull(cfg.Display.Width, cfg.Display.Height)
	}
	sink.SetBrightness(cfg.Display.Brightness)

	if !cfg.Display.SkipVersion {
		display.ShowSplash(sink, cfg.Source.URL, Version)
		sleepCtx(ctx, opts.splashHold)
	}

	p := player.New(sink, library, player.DefaultConfig())
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()
	if err := p.Start(ctx, true); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}

	dwell := config.NewDwell(cfg.Playback.DwellSecs)
	opts.restarter.BeforeRestart(func() {
		cancel()
		sink.Clear()
	})

	updater := update.New(opts.fs, update.Config{
		StagingDir:      cfg.Update.StagingDir,
		FirmwareVersion: Version,
	}, update.Deps{
		Player:    p,
		Sink:      sink,
		Flasher:   update.BinaryFlasher{Fs: opts.fs, Target: executablePath()},
		Restarter: opts.restarter,
	})

	fetcher := fetch.New(fetch.Config{
		MaxSize:         cfg.Fetch.MaxSize,
		InitialSize:     cfg.Fetch.InitialSize,
		Timeout:         cfg.Fetch.Timeout,
		FirmwareVersion: Version,
	}, p)

	sched := scheduler.New(scheduler.Config{
		PrefetchLead: cfg.Scheduler.PrefetchLead,
		RetryDelay:   cfg.Scheduler.RetryDelay,
	}, scheduler.Deps{
		Renderer: p,
		Fetcher:  fetcher,
		Display:  sink,
		Updater:  updater,
		Dwell:    dwell,
	})
	go sched.Run(ctx, events)

	device := transport.NewDeviceInfo(Version, cfg.Source.URL, cfg.Display.Width, cfg.Display.Height)
	reassembler := transport.NewReassembler(cfg.Fetch.MaxSize, dwell, p)
	control := transport.NewControlHandler(p, sink, updater, opts.restarter, dwell)

	switch kind {
	case config.SourceNone:
		log.Warn("⚠️  No source configured, showing setup screen")
		if err := p.PlayAsset(assets.Config, true); err != nil {
			log.Warnf("⚠️  Could not show config asset: %v", err)
		}

	case config.SourcePoll:
		if err := sched.StartHTTP(cfg.Source.URL); err != nil {
			return err
		}

	case config.SourceWebsocket:
		if err := sched.StartPush(); err != nil {
			return err
		}
		client := transport.NewClient(transport.ClientConfig{
			URL:               cfg.Source.URL,
			ReconnectDelay:    cfg.Transport.ReconnectDelay,
			HealthInterval:    cfg.Transport.HealthInterval,
			MaxHealthFailures: cfg.Transport.MaxHealthFailures,
		}, device, transport.ClientDeps{
			Reassembler: reassembler,
			Control:     control,
			Listener:    sched,
			Network:     opts.network,
			Indicator:   sink,
			Restarter:   opts.restarter,
		})
		p.SetNotifier(client)
		client.Start(ctx)
		go opts.network.Watch(ctx, client.OnNetworkUp, client.OnNetworkDown)

	case config.SourceNATS:
		if err := sched.StartPush(); err != nil {
			return err
		}
		sub, err := natssub.NewContentSubscriber(cfg.Source.URL, cfg.Display.ID, device, natssub.Deps{
			Reassembler: reassembler,
			Control:     control,
			Listener:    sched,
			Indicator:   sink,
		}, natssub.Options{
			ConnectAttempts: 5,
			RetryDelay:      2 * time.Second,
			ReconnectWait:   cfg.Transport.ReconnectDelay,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize NATS subscriber: %w", err)
		}
		defer sub.Close()
		p.SetNotifier(sub)
		if err := sub.Start(); err != nil {
			return fmt.Errorf("failed to start NATS subscriber: %w", err)
		}
	}

	if cfg.MDNS.Enabled {
		adv := discovery.NewAdvertiser()
		if err := adv.Start(discovery.Info{
			ID:      cfg.Display.ID,
			Version: Version,
			Mode:    kindLabel(kind),
			Port:    cfg.MDNS.Port,
		}); err != nil {
			log.Warnf("⚠️  mDNS advertisement disabled: %v", err)
		} else {
			defer adv.Stop()
		}
	}

	<-ctx.Done()
	log.Info("🛑 Shutting down display...")

	sched.Stop()
	select {
	case <-p.Done():
	case <-time.After(opts.shutdown):
		log.Warn("⚠️  Render worker did not stop in time")
	}

	log.Info("👋 Display stopped")
	return nil
}

func kindLabel(kind config.SourceKind) string {
	if kind == config.SourceNone {
		return "unconfigured"
	}
	return string(kind)
}

func executablePath() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	return path
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
