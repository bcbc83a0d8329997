// Package sbrick provides a Go library for driving SBrick Bluetooth Low
// Energy motor and relay hubs.
//
// # Features
//
//   - Device discovery and connection (firmware 4.17 or newer)
//   - Drive, quick-drive and stop for the four output channels
//   - Serialized command queue: exactly one GATT operation in flight
//   - Keepalive polling that detects link loss
//   - Battery voltage and temperature telemetry
//   - WeDo tilt and motion sensor polling with state classification
//   - Servo, light and motor percentage helpers
//
// # Quick Start
//
//	ctx := context.Background()
//	client, err := ble.NewClient(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	brick := sbrick.New(client, sbrick.WithNamePrefix("SBrick"))
//	defer brick.Close()
//
//	if err := brick.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	brick.OnPortChange(func(ch sbrick.Channel) {
//	    fmt.Printf("channel %d: %d %s\n", ch.ID, ch.Power, ch.Direction)
//	})
//
//	brick.Drive(ctx, sbrick.DriveCommand{Channel: sbrick.Channel0, Power: 200})
//
// # Write Coalescing
//
// Drive calls for a channel whose previous write has not started yet are
// merged into that pending write: the newest power and direction win and the
// call returns immediately.
//
// # Sensors
//
// StartSensor polls a port every 200ms (see WithSensorInterval) and publishes
// EventSensorValueChange and EventSensorChange. StopSensor ends the loop
// after the current read; one more event may still be delivered.
package sbrick
