package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/config"
	"github.com/itohio/gostation/pkg/frontend"
	"github.com/itohio/gostation/pkg/scope"
	"github.com/itohio/gostation/pkg/station"
	"github.com/itohio/gostation/pkg/store"
	"github.com/itohio/gostation/pkg/unit"
)

const (
	// pollInterval paces the foreground: procedures, timers and the panel.
	pollInterval = 200 * time.Millisecond
	// scopeInterval throttles the trend redraw.
	scopeInterval = 100 * time.Millisecond
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use the simulated front end instead of the serial port")
		boardFlag  = flag.Bool("board", false, "Read the ambient sensor and the reed switch from the host board")
		dataFlag   = flag.String("data", "", "Directory holding the tip and settings files")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *boardFlag {
		cfg.Board.Enabled = true
	}
	if *dataFlag != "" {
		cfg.Storage.Dir = *dataFlag
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	application := app.NewWithID("com.itohio.gostation")
	window := application.NewWindow("Soldering Station")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		log:        logger,
		window:     window,
		useMock:    *mockFlag || cfg.Mock.Enabled,
	}
	state.scopeWidget = scope.New(cfg.Monitor, state.celsius)
	state.panel = newPanel(state)

	content := container.NewBorder(
		createToolbar(state),
		nil,
		state.panel.content,
		nil,
		state.scopeWidget,
	)
	window.SetContent(content)
	window.SetOnClosed(func() { disconnect(state) })
	window.ShowAndRun()
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	log        *zap.SugaredLogger
	window     fyne.Window
	useMock    bool

	scopeWidget *scope.ScopeWidget
	panel       *panel
	connectBtn  *widget.Button

	mu     sync.RWMutex
	st     *station.Station
	mock   *frontend.Mock
	cancel context.CancelFunc
	done   chan struct{}

	lastScope time.Time
}

func (s *appState) station() *station.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// celsius converts history records for the scope.
func (s *appState) celsius(d calib.Device, raw uint16) uint16 {
	st := s.station()
	if st == nil {
		return 0
	}
	return st.Celsius(d, raw)
}

// createToolbar creates the toolbar with the Connect, Calibration and Settings buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	calibrationBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), func() {
		showCalibrationDialog(state)
	})
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, calibrationBtn, settingsBtn),
		nil,
		nil,
	)
}

// openFrontend builds the front end selected by the configuration.
func openFrontend(state *appState) (frontend.Frontend, error) {
	var fe frontend.Frontend
	if state.useMock {
		m := frontend.NewMock(state.cfg)
		state.mock = m
		fe = m
	} else {
		state.mock = nil
		fe = frontend.NewSerial(state.cfg.Serial.Port, state.cfg.Serial.Baud, frontend.DefaultBufferSize, state.log.Named("serial"))
	}
	if state.cfg.Board.Enabled {
		b, err := frontend.OpenBoard(fe, state.cfg.Board, state.log.Named("board"))
		if err != nil {
			return nil, fmt.Errorf("open board: %w", err)
		}
		fe = b
	}
	return fe, nil
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.station() != nil {
		disconnect(state)
		return
	}

	fe, err := openFrontend(state)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	if err := os.MkdirAll(state.cfg.Storage.Dir, 0o755); err != nil {
		dialog.ShowError(fmt.Errorf("failed to create %s: %w", state.cfg.Storage.Dir, err), state.window)
		return
	}
	st, err := station.New(state.cfg, fe, store.DirFS(state.cfg.Storage.Dir), state.log.Named("station"))
	if err != nil {
		dialog.ShowError(fmt.Errorf("failed to create station: %w", err), state.window)
		return
	}

	st.History().OnUpdate(func(records []station.Record) {
		now := time.Now()
		state.mu.Lock()
		if now.Sub(state.lastScope) < scopeInterval {
			state.mu.Unlock()
			return
		}
		state.lastScope = now
		state.mu.Unlock()

		snap := st.Snapshot()
		presets := scope.Presets{Iron: snap.Iron.Preset}
		if snap.Gun.Mode != unit.Off {
			presets.Gun = snap.Gun.Preset
		}
		fyne.Do(func() {
			state.scopeWidget.UpdateData(records, presets)
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := st.Start(ctx); err != nil {
		cancel()
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to simulated front end: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}

	done := make(chan struct{})
	state.mu.Lock()
	state.st = st
	state.cancel = cancel
	state.done = done
	state.mu.Unlock()

	if st.Settings().Options().AutoStart {
		st.SwitchIron(true)
	}
	state.panel.attach(st)
	go pollLoop(ctx, state, st, done)
	state.log.Infow("connected", "mock", state.useMock, "port", state.cfg.Serial.Port)
}

// pollLoop advances the station foreground and refreshes the panel.
func pollLoop(ctx context.Context, state *appState, st *station.Station, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st.Poll(now)
			snap := st.Snapshot()
			fyne.Do(func() {
				state.panel.update(snap)
			})
		}
	}
}

// disconnect saves the settings and stops the station.
func disconnect(state *appState) {
	state.mu.Lock()
	st, cancel, done := state.st, state.cancel, state.done
	state.st, state.cancel, state.done = nil, nil, nil
	state.mu.Unlock()
	if st == nil {
		return
	}

	cancel()
	<-done
	if _, err := st.SaveConfig(); err != nil {
		state.log.Warnw("failed to save settings", "err", err)
	}
	if err := st.Close(); err != nil {
		state.log.Warnw("failed to close station", "err", err)
	}
	state.panel.detach()
	state.log.Info("disconnected")
}
