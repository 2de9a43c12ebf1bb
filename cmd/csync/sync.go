package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/caracterizacion-sync/internal/autosync"
	"github.com/chmdznr/caracterizacion-sync/internal/connectivity"
	"github.com/chmdznr/caracterizacion-sync/internal/server"
	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
)

const progressTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// startSync is the manual sync trigger: one pass over every pending record
// with a progress bar while outcomes are applied
func startSync(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	monitor, err := a.newMonitor(connectivity.NewInterfaceSignal(a.cfg.SignalInterval))
	if err != nil {
		return err
	}

	var bar *pb.ProgressBar
	sc := syncer.DefaultSyncerConfig()
	sc.VerifyConnectivity = !c.Bool("no-probe")
	sc.OnStart = func(total int) {
		bar = pb.New(total)
		bar.SetTemplateString(progressTemplate)
		bar.Set("prefix", "Submitting")
		bar.Start()
	}
	sc.OnOutcome = func(string, bool) {
		bar.Set("prefix", "Reconciling")
		bar.Increment()
	}

	s, err := a.newSyncer(monitor, sc)
	if err != nil {
		return err
	}

	result := s.Sync(c.Context)
	if bar != nil {
		bar.Finish()
	}
	printResult(result)

	if result.Synced > 0 {
		a.autoBackup(c.Context)
	}
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// watch keeps csync running: connectivity is monitored, a pass runs once per
// sign-in, the local HTTP surface is served when configured and single
// keystrokes trigger a sync or quit
func watch(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor, err := a.newMonitor(connectivity.NewInterfaceSignal(a.cfg.SignalInterval))
	if err != nil {
		return err
	}
	s, err := a.newSyncer(monitor, syncer.DefaultSyncerConfig())
	if err != nil {
		return err
	}

	unsubscribe := monitor.Subscribe(func(online bool) {
		if online {
			fmt.Println(green("● online"))
		} else {
			fmt.Println(yellow("○ offline, records are kept locally"))
		}
	})
	defer unsubscribe()
	monitor.Start(ctx)
	defer monitor.Stop()

	report := func(result syncer.Result) {
		printResult(result)
		if result.Synced > 0 {
			a.autoBackup(ctx)
		}
	}

	trigger := autosync.New(ctx, a.records, s, autosync.NotifierFunc(report), a.logger)
	trigger.Attach(a.session)
	defer trigger.Stop()

	var srvErr chan error
	if a.cfg.ListenAddr != "" {
		srvErr = make(chan error, 1)
		srv := server.New(a.cfg.ListenAddr, a.records, s, monitor, a.logger)
		go func() { srvErr <- srv.Run(ctx) }()
	}

	var manual sync.WaitGroup
	defer manual.Wait()

	keys, err := keyboard.GetKeys(10)
	if err != nil {
		a.logger.Warn("Keyboard input unavailable, stop with Ctrl+C", slog.String("error", err.Error()))
		keys = nil
	} else {
		defer keyboard.Close()
		fmt.Println(faint("press s to sync now, q to quit"))
	}

	for {
		select {
		case <-ctx.Done():
			if srvErr == nil {
				return nil
			}
			return <-srvErr
		case err := <-srvErr:
			srvErr = nil
			if err != nil {
				return err
			}
		case ev, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if ev.Err != nil {
				continue
			}
			switch {
			case ev.Rune == 's' || ev.Rune == 'S':
				manual.Add(1)
				go func() {
					defer manual.Done()
					report(s.Sync(ctx))
				}()
			case ev.Rune == 'q' || ev.Rune == 'Q' || ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC:
				stop()
			}
		}
	}
}
