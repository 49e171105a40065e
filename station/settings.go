package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gostation/pkg/frontend"
	"github.com/itohio/gostation/pkg/store"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createStationTab(state),
		createTipsTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func saveConfig(state *appState) {
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := frontend.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // display name -> port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	} else {
		state.log.Warnw("failed to list serial ports", "err", err)
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}
	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.Baud))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected == "" {
				return
			}
			selectedPort := portMap[portSelect.Selected]
			if selectedPort == "" {
				selectedPort = portSelect.Selected
			}
			changed := state.cfg.Serial.Port != selectedPort
			state.cfg.Serial.Port = selectedPort
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 {
				changed = changed || baud != state.cfg.Serial.Baud
				state.cfg.Serial.Baud = baud
			}
			saveConfig(state)

			// reconnect on the new port
			if changed && !state.useMock && state.station() != nil {
				disconnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createStationTab edits the settings stored on the station: idle timers,
// boost and options.
func createStationTab(state *appState) *container.TabItem {
	st := state.station()
	if st == nil {
		return container.NewTabItem("Station", widget.NewLabel("Connect to the station first."))
	}
	rec := st.Settings()
	opts := rec.Options()

	lowTemp := widget.NewEntry()
	lowTemp.SetText(strconv.Itoa(int(rec.LowTemp)))
	lowTimeout := widget.NewEntry()
	lowTimeout.SetText((time.Duration(rec.LowTimeout) * 5 * time.Second).String())
	offTimeout := widget.NewEntry()
	offTimeout.SetText((time.Duration(rec.OffTimeout) * time.Minute).String())
	boostTemp := widget.NewEntry()
	boostTemp.SetText(strconv.Itoa(int(rec.BoostTemp())))
	boostDuration := widget.NewEntry()
	boostDuration.SetText(strconv.Itoa(int(rec.BoostDuration())))

	celsius := widget.NewCheck("Celsius", nil)
	celsius.SetChecked(opts.Celsius)
	buzzer := widget.NewCheck("Buzzer", nil)
	buzzer.SetChecked(opts.Buzzer)
	reed := widget.NewCheck("Reed switch in the gun holder", nil)
	reed.SetChecked(opts.ReedSwitch)
	bigStep := widget.NewCheck("Coarse preset step", nil)
	bigStep.SetChecked(opts.BigStep)
	autoStart := widget.NewCheck("Switch the iron on at connect", nil)
	autoStart.SetChecked(opts.AutoStart)
	fastCooling := widget.NewCheck("Fast gun cooling", nil)
	fastCooling.SetChecked(opts.FastCooling)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Low power temperature (°C, 0=off)", Widget: lowTemp},
			{Text: "Low power after", Widget: lowTimeout},
			{Text: "Switch off after (0=never)", Widget: offTimeout},
			{Text: "Boost increment (°C)", Widget: boostTemp},
			{Text: "Boost duration (s)", Widget: boostDuration},
			{Text: "Options", Widget: container.NewVBox(celsius, buzzer, reed, bigStep, autoStart, fastCooling)},
		},
		OnSubmit: func() {
			temp := rec.LowTemp
			if v, err := strconv.ParseUint(lowTemp.Text, 10, 16); err == nil {
				temp = uint16(v)
			}
			low := time.Duration(rec.LowTimeout) * 5 * time.Second
			if d, err := time.ParseDuration(lowTimeout.Text); err == nil {
				low = d
			}
			off := time.Duration(rec.OffTimeout) * time.Minute
			if d, err := time.ParseDuration(offTimeout.Text); err == nil {
				off = d
			}
			st.SetLowPower(temp, low, off)

			bt, bd := rec.BoostTemp(), rec.BoostDuration()
			if v, err := strconv.ParseUint(boostTemp.Text, 10, 16); err == nil {
				bt = uint16(v)
			}
			if v, err := strconv.ParseUint(boostDuration.Text, 10, 16); err == nil {
				bd = uint16(v)
			}
			st.SetBoost(bt, bd)

			st.SetOptions(store.Options{
				Celsius:     celsius.Checked,
				Buzzer:      buzzer.Checked,
				ReedSwitch:  reed.Checked,
				BigStep:     bigStep.Checked,
				AutoStart:   autoStart.Checked,
				FastCooling: fastCooling.Checked,
			})
			if _, err := st.SaveConfig(); err != nil {
				dialog.ShowError(err, state.window)
			}
		},
	}

	return container.NewTabItem("Station", form)
}

// createTipsTab toggles the tips offered in the tip selector.
func createTipsTab(state *appState) *container.TabItem {
	st := state.station()
	if st == nil {
		return container.NewTabItem("Tips", widget.NewLabel("Connect to the station first."))
	}

	active := make(map[string]bool)
	for _, name := range st.Tips() {
		active[name] = true
	}
	box := container.NewGridWithColumns(4)
	for _, name := range st.Catalog() {
		check := widget.NewCheck(name, nil)
		check.SetChecked(active[name])
		check.OnChanged = func(on bool) {
			toggle := st.DeactivateTip
			if on {
				toggle = st.ActivateTip
			}
			if err := toggle(name); err != nil {
				dialog.ShowError(fmt.Errorf("failed to update tip %s: %w", name, err), state.window)
				return
			}
			state.panel.refreshTips(st)
		}
		box.Add(check)
	}

	return container.NewTabItem("Tips", container.NewVScroll(box))
}

// createMockTab creates the simulated front-end configuration tab.
func createMockTab(state *appState) *container.TabItem {
	mock := &state.cfg.Mock

	sampleRateEntry := widget.NewEntry()
	sampleRateEntry.SetText(mock.SampleRate.String())
	ambientEntry := widget.NewEntry()
	ambientEntry.SetText(fmt.Sprintf("%.1f", mock.Ambient))
	ironGain := widget.NewEntry()
	ironGain.SetText(fmt.Sprintf("%.0f", mock.Iron.Gain))
	ironTau := widget.NewEntry()
	ironTau.SetText(mock.Iron.TimeConstant.String())
	gunGain := widget.NewEntry()
	gunGain.SetText(fmt.Sprintf("%.0f", mock.Gun.Gain))
	gunTau := widget.NewEntry()
	gunTau.SetText(mock.Gun.TimeConstant.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Sample Rate", Widget: sampleRateEntry},
			{Text: "Ambient (°C)", Widget: ambientEntry},
			{Text: "Iron Gain (raw)", Widget: ironGain},
			{Text: "Iron Time Constant", Widget: ironTau},
			{Text: "Gun Gain (raw)", Widget: gunGain},
			{Text: "Gun Time Constant", Widget: gunTau},
		},
		OnSubmit: func() {
			if sr, err := time.ParseDuration(sampleRateEntry.Text); err == nil {
				mock.SampleRate = sr
			}
			if a, err := strconv.ParseFloat(ambientEntry.Text, 64); err == nil {
				mock.Ambient = a
			}
			if g, err := strconv.ParseFloat(ironGain.Text, 64); err == nil {
				mock.Iron.Gain = g
			}
			if d, err := time.ParseDuration(ironTau.Text); err == nil {
				mock.Iron.TimeConstant = d
			}
			if g, err := strconv.ParseFloat(gunGain.Text, 64); err == nil {
				mock.Gun.Gain = g
			}
			if d, err := time.ParseDuration(gunTau.Text); err == nil {
				mock.Gun.TimeConstant = d
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Mock", form)
}
