package main

import (
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/station"
)

// showCalibrationDialog displays the calibration and PID tune controls.
func showCalibrationDialog(state *appState) {
	st := state.station()
	if st == nil {
		dialog.ShowInformation("Calibration", "Connect to the station first.", state.window)
		return
	}

	device := calib.Iron
	deviceSelect := widget.NewRadioGroup([]string{deviceName(calib.Iron), deviceName(calib.Gun)}, func(v string) {
		device = calib.Iron
		if v == deviceName(calib.Gun) {
			device = calib.Gun
		}
	})
	deviceSelect.Horizontal = true
	deviceSelect.SetSelected(deviceName(calib.Iron))

	status := widget.NewLabel("")
	refresh := func() {
		status.SetText(procedureText(st.Procedure()))
	}
	run := func(fn func() error) {
		if err := fn(); err != nil {
			dialog.ShowError(err, state.window)
		}
		refresh()
	}

	// automatic calibration of the iron tip
	reading := widget.NewEntry()
	reading.SetPlaceHolder("thermometer °C")
	auto := container.NewVBox(
		widget.NewButton("Start automatic calibration", func() { run(st.StartAutoCalibration) }),
		container.NewBorder(nil, nil, nil, widget.NewButton("Accept reading", func() {
			run(func() error {
				v, err := strconv.ParseUint(reading.Text, 10, 16)
				if err != nil {
					return fmt.Errorf("invalid reading %q: %w", reading.Text, err)
				}
				return st.AcceptReading(uint16(v))
			})
		}), reading),
	)

	// manual calibration, one reference point at a time
	refs := make([]string, calib.Points)
	for i := range refs {
		refs[i] = strconv.Itoa(i)
	}
	ref := widget.NewSelect(refs, nil)
	ref.SetSelected("0")
	adjust := func(delta int) func() {
		return func() { run(func() error { return st.AdjustReference(delta) }) }
	}
	manual := container.NewVBox(
		widget.NewButton("Start manual calibration", func() {
			run(func() error { return st.StartManualCalibration(device) })
		}),
		container.NewHBox(
			widget.NewLabel("Reference"), ref,
			widget.NewButton("Heat", func() {
				run(func() error {
					i, _ := strconv.Atoi(ref.Selected)
					return st.SelectReference(i)
				})
			}),
			widget.NewButton("-10", adjust(-10)),
			widget.NewButton("-1", adjust(-1)),
			widget.NewButton("+1", adjust(1)),
			widget.NewButton("+10", adjust(10)),
		),
		container.NewGridWithColumns(2,
			widget.NewButton("Accept point", func() { run(st.AcceptReference) }),
			widget.NewButton("Save calibration", func() { run(st.CommitCalibration) }),
		),
	)

	tune := widget.NewButton("Start PID tune", func() {
		run(func() error { return st.StartTune(device) })
	})

	content := container.NewVBox(
		deviceSelect,
		widget.NewCard("Automatic (iron)", "", auto),
		widget.NewCard("Manual", "", manual),
		widget.NewCard("PID", "", tune),
		widget.NewButton("Cancel procedure", func() { run(st.CancelProcedure) }),
		widget.NewButton("Refresh", refresh),
		status,
	)
	refresh()

	d := dialog.NewCustom("Calibration", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func procedureText(p station.ProcedureStatus) string {
	if p.Kind == "" {
		return "no procedure ran yet"
	}
	text := fmt.Sprintf("%s %s: %s", p.Device, p.Kind, p.Phase)
	if p.Running {
		switch p.Kind {
		case "auto":
			text += fmt.Sprintf(", point %d, target %d", p.Step, p.Target)
		case "manual":
			text += fmt.Sprintf(", preset %d", p.Target)
		case "tune":
			text += fmt.Sprintf(", loops %d", p.Step)
		}
	}
	if p.Err != nil {
		text += fmt.Sprintf(" (%v)", p.Err)
	}
	return text
}
