package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Mark and list attendance records",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return requireDatabase()
	},
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark",
	Short: "Mark an identity present in a session",
	Long: `Record that --identity attended --session. Marking twice is harmless:
the existing record is returned.`,
	RunE: runAttendanceMark,
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records of an identity or a session",
	RunE:  runAttendanceList,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd, attendanceListCmd)

	attendanceMarkCmd.Flags().String("session", "", "Session ID")
	attendanceMarkCmd.Flags().String("identity", "", "Identity ID")
	attendanceMarkCmd.Flags().String("source", "manual", "Where the mark came from")
	attendanceMarkCmd.MarkFlagRequired("session")
	attendanceMarkCmd.MarkFlagRequired("identity")

	attendanceListCmd.Flags().String("identity", "", "List this identity's records")
	attendanceListCmd.Flags().String("session", "", "List this session's records")
	attendanceListCmd.MarkFlagsMutuallyExclusive("identity", "session")
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, created, err := a.svc.MarkAttendance(ctx,
		mustGetString(cmd, "session"), mustGetString(cmd, "identity"), mustGetString(cmd, "source"))
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Marked %s present at %s\n", rec.IdentityID, rec.Timestamp.Local().Format(time.DateTime))
	} else {
		fmt.Printf("%s was already marked at %s\n", rec.IdentityID, rec.Timestamp.Local().Format(time.DateTime))
	}
	return nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	identityID := mustGetString(cmd, "identity")
	sessionID := mustGetString(cmd, "session")
	if identityID == "" && sessionID == "" {
		return errors.New("one of --identity or --session is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var records []database.AttendanceRecord
	if identityID != "" {
		records, err = a.svc.ListAttendance(ctx, identityID)
	} else {
		records, err = a.svc.ListSessionAttendance(ctx, sessionID)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records")
		return nil
	}
	fmt.Printf("%-20s  %-36s  %-10s  %s\n", "IDENTITY", "SESSION", "SOURCE", "MARKED")
	for _, rec := range records {
		fmt.Printf("%-20s  %-36s  %-10s  %s\n", rec.IdentityID, rec.SessionID, rec.Source,
			rec.Timestamp.Local().Format(time.DateTime))
	}
	fmt.Printf("\nTotal: %d\n", len(records))
	return nil
}
