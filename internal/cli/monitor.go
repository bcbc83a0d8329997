package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SeamusWaldron/sbrick_ble_library"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/recorder"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/storage"
)

var (
	monitorRecord      bool
	monitorNotes       string
	monitorMetricsAddr string
	monitorSensors     []int
	monitorLogFile     string
	monitorTelemetry   time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive channel and sensor monitor",
	Long: `Start an interactive TUI showing the four channels, sensor states, battery
and temperature, with keyboard control of the motors.

Keyboard shortcuts:
  1-4       - Select channel
  up/+      - Increase power on the selected channel
  down/-    - Decrease power on the selected channel
  r         - Reverse the selected channel
  space     - Stop the selected channel
  s         - Stop all channels
  q/Esc     - Quit

With --record every event and telemetry sample is stored in the database
for 'sbrick history'. With --metrics-addr the driver metrics are served in
Prometheus format at /metrics.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", false, "Record events and telemetry to the database")
	monitorCmd.Flags().StringVar(&monitorNotes, "notes", "", "Notes stored with the recorded session")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :7777)")
	monitorCmd.Flags().IntSliceVar(&monitorSensors, "sensor", nil, "Poll the WeDo sensor on these ports")
	monitorCmd.Flags().StringVar(&monitorLogFile, "log-file", "", "Write driver logs to this file while the TUI runs")
	monitorCmd.Flags().DurationVar(&monitorTelemetry, "telemetry-interval", 2*time.Second, "Battery and temperature refresh interval")
}

// powerStep is the power change per key press.
const powerStep = 32

const maxLogLines = 8

// Messages
type tickMsg time.Time
type eventMsg struct{ e sbrick.Event }
type telemetryMsg struct {
	volts   float64
	percent int
	celsius float64
	err     error
}
type errMsg struct{ err error }

// Model
type monitorModel struct {
	brick   *sbrick.SBrick
	events  chan sbrick.Event
	session *recorder.Session

	deviceName string
	connected  bool

	channels []sbrick.Channel
	selected sbrick.ChannelID
	sensors  map[int]sbrick.SensorReading
	ports    []int

	volts   float64
	percent int
	celsius float64
	haveTel bool

	log []string

	err      error
	quitting bool
}

func newMonitorModel(brick *sbrick.SBrick, session *recorder.Session, ports []int) *monitorModel {
	return &monitorModel{
		brick:      brick,
		events:     make(chan sbrick.Event, 100),
		session:    session,
		deviceName: brick.DeviceName(),
		connected:  brick.IsConnected(),
		channels:   brick.Channels(),
		sensors:    make(map[int]sbrick.SensorReading),
		ports:      ports,
	}
}

// forward is a bus handler that hands events to the TUI without blocking
// the publisher.
func (m *monitorModel) forward(e sbrick.Event) {
	select {
	case m.events <- e:
	default:
		// Channel full, drop event
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(
		m.listenForEvents(),
		m.readTelemetry(),
		m.tickCmd(),
	)
}

func (m *monitorModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return eventMsg{e: <-m.events}
	}
}

func (m *monitorModel) tickCmd() tea.Cmd {
	return tea.Tick(monitorTelemetry, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *monitorModel) readTelemetry() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var msg telemetryMsg
		msg.volts, msg.err = m.brick.Battery(ctx)
		if msg.err != nil {
			return msg
		}
		msg.percent, msg.err = m.brick.BatteryPercent(ctx)
		if msg.err != nil {
			return msg
		}
		msg.celsius, msg.err = m.brick.Temperature(ctx, false)
		if msg.err != nil {
			return msg
		}

		if m.session != nil && m.session.State() == recorder.StateRecording {
			if err := m.session.RecordTelemetry(storage.ReadingBattery, msg.volts); err != nil {
				return errMsg{err: err}
			}
			if err := m.session.RecordTelemetry(storage.ReadingTemperature, msg.celsius); err != nil {
				return errMsg{err: err}
			}
		}
		return msg
	}
}

func (m *monitorModel) selectedChannel() sbrick.Channel {
	for _, c := range m.channels {
		if c.ID == m.selected {
			return c
		}
	}
	return sbrick.Channel{ID: m.selected}
}

// signedPower folds direction into the sign of the power.
func signedPower(c sbrick.Channel) int {
	if c.Direction == sbrick.CounterClockwise {
		return -c.Power
	}
	return c.Power
}

func (m *monitorModel) drive(signed int) tea.Cmd {
	cmd := sbrick.DriveCommand{Channel: m.selected, Direction: sbrick.Clockwise, Power: signed}
	if signed < 0 {
		cmd.Direction = sbrick.CounterClockwise
		cmd.Power = -signed
	}
	return func() tea.Msg {
		if err := m.brick.Drive(context.Background(), cmd); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *monitorModel) stop(ids ...sbrick.ChannelID) tea.Cmd {
	return func() tea.Msg {
		var err error
		if len(ids) == 0 {
			err = m.brick.StopAll(context.Background())
		} else {
			err = m.brick.Stop(context.Background(), ids...)
		}
		if err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1", "2", "3", "4":
			m.selected = sbrick.ChannelID(msg.String()[0] - '1')

		case "up", "+", "=":
			return m, m.drive(clampSigned(signedPower(m.selectedChannel()) + powerStep))

		case "down", "-":
			return m, m.drive(clampSigned(signedPower(m.selectedChannel()) - powerStep))

		case "r":
			return m, m.drive(-signedPower(m.selectedChannel()))

		case " ":
			return m, m.stop(m.selected)

		case "s":
			return m, m.stop()
		}

	case tickMsg:
		return m, tea.Batch(m.readTelemetry(), m.tickCmd())

	case telemetryMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.volts, m.percent, m.celsius = msg.volts, msg.percent, msg.celsius
		m.haveTel = true

	case errMsg:
		m.err = msg.err

	case eventMsg:
		m.handleEvent(msg.e)
		return m, m.listenForEvents()
	}

	return m, nil
}

func clampSigned(p int) int {
	if p > 255 {
		return 255
	}
	if p < -255 {
		return -255
	}
	return p
}

func (m *monitorModel) handleEvent(e sbrick.Event) {
	var line string
	switch e.Kind {
	case sbrick.EventPortChange:
		m.channels = m.brick.Channels()
		line = fmt.Sprintf("%s power %d %s", e.Channel.ID, e.Channel.Power, e.Channel.Direction)
	case sbrick.EventSensorChange:
		m.sensors[e.Port] = e.Reading
		line = fmt.Sprintf("port %d %s %s", e.Port, e.Reading.Type, e.Reading.State)
	case sbrick.EventSensorValueChange:
		m.sensors[e.Port] = e.Reading
		return
	case sbrick.EventSensorStart, sbrick.EventSensorStop:
		line = fmt.Sprintf("port %d", e.Port)
	case sbrick.EventConnectionLost:
		m.connected = false
		m.channels = m.brick.Channels()
	case sbrick.EventConnected:
		m.connected = true
	case sbrick.EventDisconnected:
		m.connected = false
	}

	entry := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), e.Kind)
	if line != "" {
		entry += ": " + line
	}
	m.log = append(m.log, entry)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func powerBar(power int) string {
	const width = 16
	filled := power * width / 255
	return activeStyle.Render(strings.Repeat("█", filled)) + labelStyle.Render(strings.Repeat("·", width-filled))
}

func (m *monitorModel) View() string {
	if m.quitting {
		return "Stopping all channels...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("SBrick Monitor"))
	b.WriteString("\n\n")

	if m.connected {
		status := fmt.Sprintf("Connected: %s", m.deviceName)
		if m.haveTel {
			status += fmt.Sprintf("  Battery: %.2fV (%d%%)  Temp: %.1f°C", m.volts, m.percent, m.celsius)
		}
		b.WriteString(labelStyle.Render(status))
	} else {
		b.WriteString(errorStyle.Render("Connection lost - quit and reconnect"))
	}
	b.WriteString("\n")

	if m.session != nil {
		b.WriteString(valueStyle.Render(fmt.Sprintf("RECORDING %s  events: %d  elapsed: %s",
			m.session.SessionID()[:8], m.session.EventCount(),
			formatDuration(time.Duration(m.session.ElapsedMs())*time.Millisecond))))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, c := range m.channels {
		marker := "  "
		if c.ID == m.selected {
			marker = valueStyle.Render("> ")
		}
		busy := ""
		if c.Busy {
			busy = labelStyle.Render(" (busy)")
		}
		b.WriteString(fmt.Sprintf("%s%d %-13s %s %3d %-3s%s\n",
			marker, int(c.ID)+1, c.ID, powerBar(c.Power), c.Power, c.Direction, busy))
	}

	if len(m.ports) > 0 {
		b.WriteString("\n")
		for _, port := range m.ports {
			r, ok := m.sensors[port]
			if !ok {
				b.WriteString(labelStyle.Render(fmt.Sprintf("Sensor %d: waiting...", port)))
				b.WriteString("\n")
				continue
			}
			b.WriteString(fmt.Sprintf("Sensor %d: %-7s value %3d  %s\n", port, r.Type, r.Value, activeStyle.Render(r.State)))
		}
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(labelStyle.Render(line))
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Keys: 1-4=select  up/down=power  r=reverse  space=stop  s=stop all  q=quit"))
	b.WriteString("\n")

	return b.String()
}

// serveMetrics exposes the default Prometheus registry on addr.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	return srv
}

// startRecording resumes the session an interrupted run left open for this
// device, or starts a new one.
func startRecording(ctx context.Context, brick *sbrick.SBrick, db *storage.DB) (*recorder.Session, error) {
	session := recorder.NewSession(db, logger)

	id, err := session.ResumeOpen(brick.DeviceName())
	if err != nil {
		logger.WithError(err).Info("open session could not be resumed, starting a new one")
	}
	if id != "" {
		fmt.Printf("Resuming session: %s\n", id)
		return session, nil
	}

	firmware, err := brick.FirmwareVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}
	id, err = session.Start(brick.DeviceName(), firmware, monitorNotes)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Recording session: %s\n", id)
	return session, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("monitor needs a terminal; use 'sbrick sensor --watch' for plain output")
	}

	ctx := cmd.Context()

	// Keep log output off the TUI.
	logOut := io.Discard
	if monitorLogFile != "" {
		f, err := os.OpenFile(monitorLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	metricsAddr := monitorMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	var extra []sbrick.Option
	if metricsAddr != "" {
		extra = append(extra, sbrick.WithMetrics(prometheus.DefaultRegisterer))
	}

	brick, err := connectBrick(ctx, extra...)
	if err != nil {
		return err
	}
	defer brick.Close()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr)
		defer srv.Shutdown(context.Background())
		fmt.Printf("Serving metrics on %s/metrics\n", metricsAddr)
	}

	var session *recorder.Session
	if monitorRecord {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		session, err = startRecording(ctx, brick, db)
		if err != nil {
			return err
		}
		unsubscribe := session.Subscribe(brick)
		defer func() {
			unsubscribe()
			if err := session.End(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to end session: %v\n", err)
				return
			}
			fmt.Printf("Session saved: %s\n", session.SessionID())
		}()
	}

	model := newMonitorModel(brick, session, monitorSensors)
	unsubscribe := brick.Events().Subscribe(model.forward)
	defer unsubscribe()

	for _, port := range monitorSensors {
		if err := brick.StartSensor(ctx, port); err != nil {
			return fmt.Errorf("failed to start sensor %d: %w", port, err)
		}
	}

	logger.SetOutput(logOut)
	defer logger.SetOutput(os.Stderr)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	if err := brick.StopAll(context.Background()); err != nil && !errors.Is(err, sbrick.ErrNotConnected) {
		return fmt.Errorf("failed to stop channels: %w", err)
	}
	return nil
}
