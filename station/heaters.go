package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/station"
	"github.com/itohio/gostation/pkg/unit"
)

// panel holds the iron and gun controls.
type panel struct {
	state   *appState
	content fyne.CanvasObject

	ironStatus *widget.Label
	ironPreset *widget.Slider
	ironBtn    *widget.Button
	boostBtn   *widget.Button
	tipSelect  *widget.Select

	gunStatus *widget.Label
	gunPreset *widget.Slider
	fan       *widget.Slider
	gunBtn    *widget.Button

	status *widget.Label

	ironAttached *widget.Check
	gunAttached  *widget.Check
	gunHung      *widget.Check

	ironOn, gunOn bool
	controls      []fyne.Disableable
}

func newPanel(state *appState) *panel {
	p := &panel{state: state}
	cfg := state.cfg

	p.ironStatus = widget.NewLabel("iron: disconnected")
	p.ironPreset = widget.NewSlider(float64(cfg.Iron.TempMin), float64(cfg.Iron.TempMax))
	p.ironPreset.Step = 5
	p.ironPreset.OnChangeEnded = func(v float64) {
		if st := state.station(); st != nil {
			st.SetIronTemp(uint16(v))
		}
	}
	p.ironBtn = widget.NewButton("Iron On", func() {
		if st := state.station(); st != nil {
			st.SwitchIron(!p.ironOn)
		}
	})
	p.boostBtn = widget.NewButton("Boost", func() {
		if st := state.station(); st != nil {
			st.Boost()
		}
	})
	p.tipSelect = widget.NewSelect(nil, func(name string) {
		st := state.station()
		if st == nil || name == "" || name == st.Snapshot().Tip {
			return
		}
		if err := st.SelectTip(name); err != nil {
			dialog.ShowError(fmt.Errorf("failed to select tip %s: %w", name, err), state.window)
		}
	})

	p.gunStatus = widget.NewLabel("gun: disconnected")
	p.gunPreset = widget.NewSlider(float64(cfg.Gun.TempMin), float64(cfg.Gun.TempMax))
	p.gunPreset.Step = 10
	p.gunPreset.OnChangeEnded = func(v float64) {
		if st := state.station(); st != nil {
			st.SetGunTemp(uint16(v))
		}
	}
	p.fan = widget.NewSlider(0, float64(cfg.Gun.FanMax))
	p.fan.Step = 50
	p.fan.OnChangeEnded = func(v float64) {
		if st := state.station(); st != nil {
			st.SetFan(uint16(v))
		}
	}
	p.gunBtn = widget.NewButton("Gun On", func() {
		if st := state.station(); st != nil {
			st.SwitchGun(!p.gunOn)
		}
	})

	p.status = widget.NewLabel("")

	p.ironAttached = widget.NewCheck("Iron handle attached", func(bool) { p.applyHandles() })
	p.gunAttached = widget.NewCheck("Gun handle attached", func(bool) { p.applyHandles() })
	p.gunHung = widget.NewCheck("Gun in holder", func(on bool) {
		if m := state.mock; m != nil {
			m.SetReed(on)
		}
	})
	p.ironAttached.SetChecked(true)
	p.gunAttached.SetChecked(true)

	iron := widget.NewCard("Soldering iron", "", container.NewVBox(
		p.ironStatus,
		widget.NewLabel("Preset"), p.ironPreset,
		widget.NewLabel("Tip"), p.tipSelect,
		container.NewGridWithColumns(2, p.ironBtn, p.boostBtn),
	))
	gun := widget.NewCard("Hot air gun", "", container.NewVBox(
		p.gunStatus,
		widget.NewLabel("Preset"), p.gunPreset,
		widget.NewLabel("Fan"), p.fan,
		p.gunBtn,
	))
	box := container.NewVBox(iron, gun, p.status)
	if state.useMock {
		box.Add(widget.NewCard("Simulation", "", container.NewVBox(p.ironAttached, p.gunAttached, p.gunHung)))
	}
	p.content = container.NewVScroll(box)

	p.controls = []fyne.Disableable{p.ironBtn, p.boostBtn, p.tipSelect, p.gunBtn}
	p.setEnabled(false)
	return p
}

func (p *panel) applyHandles() {
	if m := p.state.mock; m != nil {
		m.SetHandles(p.ironAttached.Checked, p.gunAttached.Checked)
	}
}

func (p *panel) setEnabled(on bool) {
	for _, c := range p.controls {
		if on {
			c.Enable()
		} else {
			c.Disable()
		}
	}
}

// attach loads the stored presets into the controls.
func (p *panel) attach(st *station.Station) {
	snap := st.Snapshot()
	p.ironPreset.SetValue(float64(snap.Iron.Preset))
	p.gunPreset.SetValue(float64(snap.Gun.Preset))
	p.fan.SetValue(float64(st.Settings().GunFan))
	p.refreshTips(st)
	p.applyHandles()
	p.setEnabled(true)
	p.update(snap)
}

// refreshTips lists the active tips, the selected one included.
func (p *panel) refreshTips(st *station.Station) {
	snap := st.Snapshot()
	tips := st.Tips()
	found := false
	for _, t := range tips {
		found = found || t == snap.Tip
	}
	if !found {
		tips = append(tips, snap.Tip)
	}
	p.tipSelect.Options = tips
	p.tipSelect.Selected = snap.Tip
	p.tipSelect.Refresh()
}

func (p *panel) detach() {
	p.setEnabled(false)
	p.ironStatus.SetText("iron: disconnected")
	p.gunStatus.SetText("gun: disconnected")
	p.status.SetText("")
}

// update shows a snapshot. It runs on the Fyne thread.
func (p *panel) update(snap station.Snapshot) {
	p.ironOn = heating(snap.Iron.Mode)
	p.gunOn = heating(snap.Gun.Mode)

	p.ironStatus.SetText(heaterText("iron", snap.Iron))
	p.gunStatus.SetText(heaterText("gun", snap.Gun))
	setToggle(p.ironBtn, "Iron", p.ironOn)
	setToggle(p.gunBtn, "Gun", p.gunOn)

	if snap.Boost > 0 {
		p.boostBtn.SetText(fmt.Sprintf("Boost %ds", int(snap.Boost.Seconds())))
	} else {
		p.boostBtn.SetText("Boost")
	}

	text := fmt.Sprintf("ambient %d°C  fan %d", snap.Ambient, snap.Fan)
	if snap.Relay {
		text += "  relay"
	}
	if snap.LowPower {
		text += "  low power"
	}
	if snap.Reed {
		text += "  gun hung"
	}
	if pr := snap.Procedure; pr.Running {
		text += fmt.Sprintf("\n%s %s: %s", pr.Device, pr.Kind, pr.Phase)
	}
	p.status.SetText(text)
}

func heating(m unit.PowerMode) bool {
	switch m {
	case unit.Heating, unit.On, unit.Boost, unit.Fixed, unit.PidTune:
		return true
	}
	return false
}

func heaterText(name string, h station.HeaterStatus) string {
	if !h.Connected {
		return fmt.Sprintf("%s: no handle (%s)", name, h.Mode)
	}
	return fmt.Sprintf("%s: %d°C / %d°C  %s  power %d", name, h.Temp, h.Preset, h.Mode, h.Power)
}

func setToggle(btn *widget.Button, name string, on bool) {
	if on {
		btn.SetText(name + " Off")
		btn.Importance = widget.HighImportance
	} else {
		btn.SetText(name + " On")
		btn.Importance = widget.MediumImportance
	}
	btn.Refresh()
}

// deviceName labels a calibration target.
func deviceName(d calib.Device) string {
	if d == calib.Gun {
		return "Hot air gun"
	}
	return "Soldering iron"
}
