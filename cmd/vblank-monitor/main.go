// vblank-monitor arms repeated vblank waits on one CRTC and prints each
// completion as it arrives, which is handy for checking that a card
// delivers frame events at all and at the expected rate.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/btclinux/modesetting"
	"github.com/btclinux/modesetting/internal/logging"
)

func main() {
	var (
		device   = flag.String("device", modesetting.DefaultDevicePath, "Card node to open")
		crtcID   = flag.Uint("crtc", 0, "KMS CRTC object id to monitor")
		pipe     = flag.Int("pipe", 0, "CRTC pipe index on the device")
		count    = flag.Int("count", 0, "Stop after this many events (0 = run until interrupted)")
		interval = flag.Uint64("interval", 1, "Frames between events")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if err := run(*device, uint32(*crtcID), *pipe, *count, *interval); err != nil {
		logger.WithError(err).Error("monitor failed")
		os.Exit(1)
	}
}

func run(device string, crtcID uint32, pipe int, count int, interval uint64) error {
	monitor, err := modesetting.NewEpollMonitor()
	if err != nil {
		return errors.Wrap(err, "creating wakeup monitor")
	}
	defer monitor.Close()

	registry := modesetting.NewEntityRegistry(&modesetting.RegistryConfig{Monitor: monitor})

	config := modesetting.DefaultScreenConfig(0)
	config.DevicePath = device
	screen, err := modesetting.NewScreen(registry, config, nil)
	if err != nil {
		return errors.Wrapf(err, "bringing up screen on %s", device)
	}
	defer screen.Close()

	crtc := modesetting.NewCRTC(crtcID, pipe, 0)
	crtc.SetEnabled(true)
	screen.AddCRTC(crtc)

	ust, msc, err := screen.GetCrtcUstMsc(crtc)
	if err != nil {
		return errors.Wrap(err, "reading initial frame count")
	}
	fmt.Printf("crtc %d: msc=%d ust=%d\n", crtcID, msc, ust)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	received := 0
	prevUsec := uint64(0)
	arm := func() error {
		seq, err := screen.AllocateSequence(crtc, nil, func(frame, usec uint64, _ any) {
			delta := usec - prevUsec
			if prevUsec == 0 {
				delta = 0
			}
			prevUsec = usec
			fmt.Printf("event %4d: msc=%d ust=%d delta=%dus\n", received, frame, usec, delta)
			received++
		}, nil)
		if err != nil {
			return errors.Wrap(err, "allocating sequence")
		}
		if _, err := screen.QueueVblank(crtc, modesetting.QueueRelative, interval, seq); err != nil {
			screen.AbortSequence(seq)
			return errors.Wrap(err, "queueing vblank wait")
		}
		return nil
	}
	if err := arm(); err != nil {
		return err
	}

	for count == 0 || received < count {
		select {
		case <-sigCh:
			fmt.Println("interrupted")
			return nil
		default:
		}

		if _, err := monitor.Wait(1000); err != nil {
			return errors.Wrap(err, "waiting for events")
		}
		if _, err := screen.FlushEvents(); err != nil {
			return errors.Wrap(err, "flushing events")
		}
		// Exactly one wait is outstanding; re-arm once it completed.
		if screen.Pending() == 0 && (count == 0 || received < count) {
			if err := arm(); err != nil {
				return err
			}
		}
	}

	snap := screen.Metrics().Snapshot()
	fmt.Printf("done: %d events, avg latency %dus, p99 %dus\n",
		received, snap.AvgLatencyNs/1000, snap.LatencyP99Ns/1000)
	return nil
}
