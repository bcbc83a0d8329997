package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/storage"
)

var (
	historyLimit  int
	historyDelete bool
	historyEvents bool
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id|last]",
	Short: "List or inspect recorded sessions",
	Long: `Without arguments, list recent sessions recorded with 'sbrick monitor --record'.
With a session ID (or "last"), show its event counts and telemetry summary.

Examples:
  sbrick history
  sbrick history last
  sbrick history <session_id> --events -o events.json
  sbrick history <session_id> --delete`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of sessions to list")
	historyCmd.Flags().BoolVar(&historyDelete, "delete", false, "Delete the session")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Export the session's events as JSON")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "Output file for --events (default: stdout)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo := storage.NewSessionRepository(db)

	if len(args) == 0 {
		return listSessions(sessionRepo)
	}

	var session *storage.Session
	if args[0] == "last" {
		session, err = sessionRepo.GetLast()
	} else {
		session, err = sessionRepo.Get(args[0])
	}
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", args[0])
	}

	switch {
	case historyDelete:
		if err := sessionRepo.Delete(session.SessionID); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", session.SessionID)
		return nil
	case historyEvents:
		return exportEvents(storage.NewEventRepository(db), session.SessionID)
	}

	return showSession(db, session)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func sessionDuration(s storage.Session) string {
	if s.DurationMs == nil {
		return "active"
	}
	return formatDuration(time.Duration(*s.DurationMs) * time.Millisecond)
}

func listSessions(repo *storage.SessionRepository) error {
	sessions, err := repo.List(historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		fmt.Println("  (Use 'sbrick monitor --record' to record one)")
		return nil
	}

	fmt.Println(titleStyle.Render("Recorded Sessions"))
	for _, s := range sessions {
		fmt.Printf("%s  %s  %-10s %s\n",
			s.SessionID[:8],
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			sessionDuration(s),
			deref(s.DeviceName))
	}
	return nil
}

func showSession(db *storage.DB, s *storage.Session) error {
	fmt.Println(titleStyle.Render("Session " + s.SessionID))
	printField("Started", s.StartedAt.Local().Format(time.RFC3339))
	printField("Duration", sessionDuration(*s))
	printField("Device", deref(s.DeviceName))
	printField("Firmware", deref(s.Firmware))
	if s.Notes != nil {
		printField("Notes", *s.Notes)
	}

	counts, err := storage.NewEventRepository(db).CountByType(s.SessionID)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Events"))
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			printField(t, counts[t])
		}
	}

	summary, err := storage.NewReadingRepository(db).Summarize(s.SessionID)
	if err != nil {
		return err
	}
	if len(summary) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Readings"))
		for _, r := range summary {
			printField(r.Kind, fmt.Sprintf("n=%d min=%.2f max=%.2f avg=%.2f", r.Count, r.Min, r.Max, r.Avg))
		}
	}
	return nil
}

type exportedEvent struct {
	TsMs    int64           `json:"ts_ms"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func exportEvents(repo *storage.EventRepository, sessionID string) error {
	events, err := repo.GetBySession(sessionID)
	if err != nil {
		return err
	}

	out := make([]exportedEvent, 0, len(events))
	for _, e := range events {
		out = append(out, exportedEvent{TsMs: e.TsMs, Type: e.EventType, Payload: json.RawMessage(e.PayloadJSON)})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	if historyOutput == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(historyOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Printf("Exported %d events to %s\n", len(out), historyOutput)
	return nil
}
