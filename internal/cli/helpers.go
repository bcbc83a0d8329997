package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/SeamusWaldron/sbrick_ble_library"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/ble"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/storage"
	"github.com/SeamusWaldron/sbrick_ble_library/pkg/transport"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// newTransport returns the dummy or the Bluetooth transport.
func newTransport() (transport.Transport, error) {
	if cfg.Dummy {
		return ble.NewDummy(), nil
	}
	client, err := ble.NewClient(logger)
	if err != nil {
		return nil, fmt.Errorf("BLE not available: %w", err)
	}
	return client, nil
}

// connectBrick creates a driver from the resolved config and connects it.
// Callers must Close the returned driver.
func connectBrick(ctx context.Context, extra ...sbrick.Option) (*sbrick.SBrick, error) {
	t, err := newTransport()
	if err != nil {
		return nil, err
	}

	opts := append(cfg.DriverOptions(logger), extra...)
	brick := sbrick.New(t, opts...)

	fmt.Printf("Connecting to %s...\n", cfg.NamePrefix)
	if err := brick.Connect(ctx); err != nil {
		brick.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	fmt.Println(connectedLine(brick.DeviceName(), t))

	return brick, nil
}

// connectedLine names the device and, for real adapters, its address.
func connectedLine(name string, t transport.Transport) string {
	if a, ok := t.(interface{ Address() string }); ok && a.Address() != "" {
		return fmt.Sprintf("Connected: %s (%s)", name, a.Address())
	}
	return "Connected: " + name
}

// openDB opens the configured database, falling back to the default path.
func openDB() (*storage.DB, error) {
	path := cfg.DBPath
	if path == "" {
		p, err := storage.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// interruptContext is cancelled on Ctrl-C or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// holdFor waits for d, or until interrupted when d is zero.
func holdFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		fmt.Println("Press Ctrl-C to stop")
		<-ctx.Done()
		return
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := d.Seconds() - float64(mins*60)
	return fmt.Sprintf("%d:%05.2f", mins, secs)
}

func printField(label string, value any) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), valueStyle.Render(fmt.Sprint(value)))
}
