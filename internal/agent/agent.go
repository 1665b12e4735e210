package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/config"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/gpio"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/link"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/macro"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/mqtt"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/scheduler"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/server"
)

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state    *core.State
	eventBus *core.EventBus
	queue    *core.CommandQueue
	pressure *core.PressureSimulator

	output     gpio.Output
	handlers   *server.Handlers
	server     *server.Server
	link       *link.Link
	macros     *macro.Engine
	scheduler  *scheduler.Scheduler
	mqttClient *mqtt.Client

	tickInterval  time.Duration
	livenessEvery int
	tickCount     uint64
	now           func() time.Time
}

func NewAgent(cfg *config.Config) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// The LED build boots unconfigured, the relay build starts in the
	// basic working mode.
	initialMode := core.ModeUnset
	if cfg.Output.Kind == "relais" {
		initialMode = core.ModeBasic
	}

	a := &Agent{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		state:    core.NewState(initialMode),
		eventBus: core.NewEventBus(),
		queue:    core.NewCommandQueue(cfg.Loop.QueueCapacity),
		pressure: core.NewPressureSimulator(),
		now:      time.Now,
	}

	output, err := gpio.New(cfg.Output)
	if err != nil {
		cancel()
		return nil, err
	}
	a.output = output

	a.macros = macro.NewEngine(a.queue, cfg.MacrosDir, a.eventBus)

	a.scheduler = scheduler.NewScheduler(a.queue, cfg.SchedulesFile)

	a.handlers = server.NewHandlers(
		a.state,
		a.queue,
		a.pressure,
		a.output,
		a.eventBus,
		server.NewDirStore(cfg.Server.WebFilesDir),
		a.macros,
		cfg.Output.Kind,
		cfg.Server.DefaultDocument,
	)

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	a.server = server.NewServer(a.handlers, cfg.Server.Port, readTimeout, cfg.Server.MaxRequestBytes)

	a.link = link.New(cfg.Link)

	// Optional, nil when disabled.
	a.mqttClient = mqtt.NewClient(cfg, a.state, a.eventBus, a.handlers, a.macros)

	a.tickInterval, _ = time.ParseDuration(cfg.Loop.TickInterval)
	if a.tickInterval <= 0 {
		a.tickInterval = 100 * time.Millisecond
	}
	a.livenessEvery = cfg.Loop.LivenessEvery
	if a.livenessEvery <= 0 {
		a.livenessEvery = 100
	}

	return a, nil
}

// Run starts the background services and blocks in the drain loop until
// Shutdown cancels it.
func (a *Agent) Run() {
	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				log.Printf("[Agent] MQTT Setup Error: %v", err)
			}
		}()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mqttClient.Run(a.ctx)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.link.Run(a.ctx)
	}()

	a.scheduler.Start()

	log.Printf("Agent running on http://localhost:%s", a.config.Server.Port)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Run(a.ctx); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Agent drain loop ready.")
	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			log.Println("Agent drain loop shutting down...")
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick moves at most one queued command to the controller link and emits
// the periodic liveness line.
func (a *Agent) tick() {
	if cmd, ok := a.queue.TryPop(); ok {
		a.link.Send(cmd)
	}

	a.tickCount++
	if a.tickCount%uint64(a.livenessEvery) == 0 {
		log.Printf("[Agent] alive, tick %d at %s", a.tickCount, a.now().Format(time.RFC3339))
	}
}

func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	a.macros.Stop()
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.cancel()
	a.wg.Wait()
	a.output.Close()
}
