package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/bhmc/aiclk"
	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/datarecording"
	"github.com/sarchlab/bhmc/dmc"
	"github.com/sarchlab/bhmc/harvesting"
	"github.com/sarchlab/bhmc/loopback"
	"github.com/sarchlab/bhmc/monitoring"
	"github.com/sarchlab/bhmc/msgqueue"
	"github.com/sarchlab/bhmc/noc"
	"github.com/sarchlab/bhmc/smc"
)

var runFlags = struct {
	monitorPort int
	openBrowser bool
	tracePath   string
	tick        time.Duration
	boardPower  uint16
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full firmware stack against simulated devices.",
	Long: `Run brings up both firmware domains in one process, joined by a ` +
		`loopback transport, and serves the monitoring dashboard. The stack ` +
		`runs until interrupted.`,
	RunE: runStack,
}

func init() {
	runCmd.Flags().IntVar(&runFlags.monitorPort, "port", 0,
		"monitoring server port, 0 picks a random port")
	runCmd.Flags().BoolVar(&runFlags.openBrowser, "browser", false,
		"open the monitoring dashboard in a browser")
	runCmd.Flags().StringVar(&runFlags.tracePath, "trace", "",
		"record telemetry into the given SQLite database path")
	runCmd.Flags().DurationVar(&runFlags.tick, "tick", 20*time.Millisecond,
		"pacing interval of the firmware loops")
	runCmd.Flags().Uint16Var(&runFlags.boardPower, "board-power", 42,
		"simulated board input power in watts")

	rootCmd.AddCommand(runCmd)
}

// loadEnvOverrides applies .env settings that were not given as flags.
func loadEnvOverrides(cmd *cobra.Command) {
	_ = godotenv.Load()

	if !cmd.Flags().Changed("port") {
		if v, err := strconv.Atoi(os.Getenv("BHMC_MONITOR_PORT")); err == nil {
			runFlags.monitorPort = v
		}
	}

	if !cmd.Flags().Changed("trace") {
		if v := os.Getenv("BHMC_TRACE"); v != "" {
			runFlags.tracePath = v
		}
	}
}

func runStack(cmd *cobra.Command, _ []string) error {
	loadEnvOverrides(cmd)

	queue := msgqueue.NewQueue("SMC.CommandQueue")
	controller := smc.NewController(queue)

	monitor := monitoring.NewMonitor().WithPortNumber(runFlags.monitorPort)
	if runFlags.openBrowser {
		monitor.WithBrowser()
	}

	clock := loopback.NewClock(800)
	curve := aiclk.NewVFCurve()
	ppm := aiclk.NewPPM(clock, curve).WithLimits(1400, 200)
	if err := ppm.Init(); err != nil {
		return err
	}

	tableBar := monitor.CreateProgressBar("noc translation tables",
		uint64(noc.XSize*noc.YSize*noc.NumRings))

	tiles := harvesting.AllEnabled()
	engine := noc.NewEngine(loopback.NewRegBus()).
		WithChangeHook(func(enabled bool) {
			var v uint32
			if enabled {
				v = 1
			}
			controller.Telemetry().Set(smc.TagNocTranslation, v)
		}).
		WithNodeHook(func() {
			tableBar.IncrementFinished(1)
		})
	engine.InitFromHarvesting(tiles)
	monitor.CompleteProgressBar(tableBar)

	controller.
		WithNocEngine(engine, tiles).
		WithAiclk(ppm, curve).
		WithRegulator(loopback.NewRegulator(750)).
		WithWatchdogDevice(loopback.NewWatchdog(), 1000).
		WithDMCLogSink(log.Writer())

	port := loopback.NewResetPort().
		WithResetHook(controller.AnnounceReady)

	chip := dmc.NewChip(loopback.NewLink(controller), port)
	board := dmc.NewBoard(chip).
		WithFan(loopback.NewFan()).
		WithPowerSensor(loopback.NewPowerSensor(runFlags.boardPower)).
		WithStaticInfo(cm2dm.StaticInfo{
			Version:    1,
			BLVersion:  0x010000,
			AppVersion: 0x010000,
		}).
		WithMaxPower(450)

	// The controller's queue field is discovered by RegisterComponent, so
	// the queue needs no registration of its own.
	monitor.RegisterComponent(controller)
	monitor.RegisterComponent(board)
	monitor.RegisterTelemetry(controller.Telemetry())
	monitor.StartServer()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runFlags.tracePath != "" {
		recorder := datarecording.New(runFlags.tracePath)
		defer recorder.Close()

		trace := datarecording.NewTrace(recorder)

		controller.Dispatcher().WithObserver(func(
			channel int,
			req *msgqueue.Request,
			rsp *msgqueue.Response,
			d time.Duration,
		) {
			hb, _ := controller.Telemetry().Get(smc.TagTimerHeartbeat)
			trace.RecordCommand(hb, channel, req.Code(),
				uint8(rsp.Data[0]), d)
		})

		go recordTelemetry(ctx, controller.Telemetry(), trace)
	}

	go func() {
		if err := board.Run(ctx, runFlags.tick); err != nil &&
			!errors.Is(err, context.Canceled) {
			log.Printf("dmc loop: %v", err)
		}
	}()

	controller.AnnounceReady()

	err := controller.Run(ctx, runFlags.tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// recordTelemetry samples the telemetry table into the trace once per second.
func recordTelemetry(
	ctx context.Context,
	telemetry *smc.Telemetry,
	trace *datarecording.Trace,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := telemetry.Snapshot()

			values := make(map[uint8]uint32, len(snapshot))
			for tag, v := range snapshot {
				values[uint8(tag)] = v
			}

			trace.RecordTelemetry(values[uint8(smc.TagTimerHeartbeat)],
				values)
		}
	}
}
