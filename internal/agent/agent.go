package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rgblight/internal/animation"
	"rgblight/internal/battery"
	"rgblight/internal/ble"
	"rgblight/internal/config"
	"rgblight/internal/core"
	"rgblight/internal/logging"
	"rgblight/internal/lua"
	"rgblight/internal/metrics"
	"rgblight/internal/mqtt"
	"rgblight/internal/ota"
	"rgblight/internal/output"
	"rgblight/internal/persist"
	"rgblight/internal/scheduler"
	"rgblight/internal/server"
)

// ErrRestart is returned by Run after a firmware update was applied. The
// caller should exec the new image.
var ErrRestart = errors.New("restart requested")

type Agent struct {
	config *config.Config
	logger zerolog.Logger
	wg     sync.WaitGroup

	store      persist.Store
	closeStore func() error

	state    *core.State
	sink     output.Sink
	eventBus *core.EventBus
	metrics  *metrics.Metrics
	persist  *persist.Manager
	gate     *ota.Gate
	handler  *CommandHandler
	engine   *animation.Engine
	sampler  *battery.Sampler

	peripheral *ble.Peripheral
	luaEngine  *lua.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client

	restartOnce sync.Once
	restart     chan struct{}
}

// NewAgent builds every component from cfg and restores the persisted
// state. Nothing runs until Run.
func NewAgent(cfg *config.Config) (*Agent, error) {
	a := &Agent{
		config:   cfg,
		logger:   logging.Component("agent"),
		eventBus: core.NewEventBus(),
		metrics:  metrics.New(),
		restart:  make(chan struct{}),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	values, err := persist.Load(a.store, core.DefaultValues())
	if err != nil {
		a.logger.Warn().Err(err).Msg("Some stored values could not be read, using defaults for them")
	}
	a.state = core.NewState(values)
	a.logger.Info().
		Stringer("mode", values.Mode).
		Uint8("speed", values.Speed).
		Uint8("brightness", values.RainbowBrightness).
		Msg("State restored")

	if a.sink, err = newSink(cfg.Output); err != nil {
		a.closeStore()
		return nil, err
	}

	a.persist = persist.NewManager(a.state, a.store, cfg.Persist.Delay.Duration(), logging.Component("persist"),
		persist.WithFlushHook(a.metrics.PersistFlush))

	var radio ota.Radio = ota.NopRadio{}
	if cfg.BLE.Enabled {
		a.peripheral = ble.NewPeripheral(cfg.Device.Name, logging.Component("ble"))
		radio = a.peripheral
	}
	transport := ota.NewHTTPTransport(ota.HTTPOptions{
		Addr:     cfg.OTA.Addr,
		Password: cfg.OTA.Password,
		Target:   cfg.OTA.Target,
		MaxBytes: cfg.OTA.MaxBytes,
	}, logging.Component("ota"))
	a.gate = ota.NewGate(radio, transport, a.requestRestart, logging.Component("ota"))

	a.handler = NewCommandHandler(a.state, a.sink, a.eventBus, a.persist, a.gate, a.metrics, logging.Component("endpoint"))
	if a.peripheral != nil {
		a.eventBus.AddSink(a.peripheral)
		a.peripheral.SetHandler(a.handler)
	}

	a.engine = animation.NewEngine(a.state, a.sink)
	a.engine.OnStep(func(mode core.Mode) { a.metrics.AnimationStep(mode.String()) })

	a.luaEngine = lua.NewEngine(a.handler, a.state, cfg.ScriptTimeout.Duration(), logging.Component("lua"))
	a.scheduler = scheduler.NewScheduler(a.luaEngine, logging.Component("scheduler"))

	if cfg.Battery.Enabled {
		a.sampler = battery.NewSampler(a.state, battery.NewSysfsSource(cfg.Battery.Path), a.eventBus, battery.Config{
			Idle:    battery.Band{Low: cfg.Battery.Idle.Low, High: cfg.Battery.Idle.High},
			Powered: battery.Band{Low: cfg.Battery.Powered.Low, High: cfg.Battery.Powered.High},
			Window:  cfg.Battery.Window,
		}, logging.Component("battery"))
		a.sampler.OnSample(a.metrics.BatterySample)
		a.scheduler.Every("battery", cfg.Battery.Interval.Duration(), a.sampleBattery)
	}

	for _, s := range cfg.Schedules {
		if _, err := a.scheduler.Add(s.Name, s.Spec, s.Script); err != nil {
			a.closeStore()
			return nil, err
		}
	}

	if cfg.Server.Enabled {
		a.server = server.NewServer(server.Options{
			Addr:           ":" + cfg.Server.Port,
			WebFilesDir:    cfg.Server.WebFilesDir,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Writer:         a.handler,
			Bus:            a.eventBus,
			Scripts:        a.luaEngine,
			Schedules:      a.scheduler,
			Metrics:        a.metrics.Handler(),
		}, logging.Component("server"))
	}

	a.mqttClient = mqtt.NewClient(cfg.MQTT, a.handler, a.eventBus, logging.Component("mqtt"))

	return a, nil
}

func (a *Agent) openStore() error {
	if a.config.Storage.Path == "" {
		a.store = persist.NewMemoryStore()
		a.closeStore = func() error { return nil }
		a.logger.Warn().Msg("No storage path configured, settings will not survive a restart")
		return nil
	}
	db, err := persist.OpenSQLite(a.config.Storage.Path, a.config.Device.Name)
	if err != nil {
		return err
	}
	a.store = db
	a.closeStore = db.Close
	return nil
}

func newSink(cfg config.OutputConfig) (output.Sink, error) {
	switch cfg.Driver {
	case "sysfs":
		var channels [3]output.PWMChannel
		for i, ch := range cfg.Channels {
			channels[i] = output.PWMChannel{Chip: ch.Chip, Channel: ch.Channel}
		}
		pwm, err := output.NewSysfsPWM(cfg.PWMRoot, channels, uint64(cfg.Period.Duration().Nanoseconds()), logging.Component("output"))
		if err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		return pwm, nil
	default:
		return output.NewLogSink(logging.Component("output")), nil
	}
}

// Handler returns the endpoint dispatcher.
func (a *Agent) Handler() *CommandHandler {
	return a.handler
}

// State returns the device state.
func (a *Agent) State() *core.State {
	return a.state
}

func (a *Agent) sampleBattery() {
	if _, _, err := a.sampler.Sample(); err != nil {
		a.logger.Debug().Err(err).Msg("Battery sample skipped")
	}
}

func (a *Agent) requestRestart() {
	a.restartOnce.Do(func() { close(a.restart) })
}

// Run shows the restored state, starts the control surfaces and drives the
// render loop until ctx is cancelled or an update asks for a restart.
func (a *Agent) Run(ctx context.Context) error {
	v := a.state.Apply(func(v *core.Values) {
		a.sink.Write(v.Output())
	})
	a.eventBus.PublishValues(v, core.Attributes...)

	if a.sampler != nil {
		a.sampleBattery()
	}

	if a.peripheral != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.peripheral.Start(ctx, a.state.Snapshot()); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("Bluetooth peripheral failed to start")
			}
		}()
	}

	if a.server != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.server.Run(ctx)
		}()
		go func() {
			a.logger.Info().Str("port", a.config.Server.Port).Msg("HTTP server listening")
			if err := a.server.ListenAndServe(); err != nil {
				a.logger.Error().Err(err).Msg("Server error")
			}
		}()
	}

	if a.mqttClient != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mqttClient.Run(ctx)
		}()
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				a.logger.Error().Err(err).Msg("MQTT setup error")
			}
		}()
	}

	a.scheduler.Start()

	a.logger.Info().Dur("frame", a.config.Animation.FrameInterval.Duration()).Msg("Render loop running")
	ticker := time.NewTicker(a.config.Animation.FrameInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.restart:
			return ErrRestart
		case now := <-ticker.C:
			a.engine.Tick(now)
			a.gate.Poll()
		}
	}
}

// Shutdown stops the surfaces, disengages the update gate and flushes any
// pending state to storage. Run's context must be cancelled first.
func (a *Agent) Shutdown(ctx context.Context) error {
	var errs []error

	a.scheduler.Stop()
	a.luaEngine.Stop()
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.gate.Active() {
		if err := a.gate.SetActive(false); err != nil {
			errs = append(errs, fmt.Errorf("ota: %w", err))
		}
	}
	if a.peripheral != nil {
		if err := a.peripheral.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("ble: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := a.persist.Close(); err != nil {
		errs = append(errs, fmt.Errorf("persist: %w", err))
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
