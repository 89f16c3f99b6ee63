package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage attendance sessions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return requireDatabase()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a session for a group",
	Long: `Open a time-boxed attendance session. A group has at most one active
session; creating a second one fails until the first ends or expires.`,
	RunE: runSessionCreate,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionEnd,
}

var sessionActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the group's active session",
	RunE:  runSessionActive,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the group's sessions, newest first",
	RunE:  runSessionList,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionEndCmd, sessionActiveCmd, sessionListCmd)

	sessionCreateCmd.Flags().String("group", "", "Group the session is for")
	sessionCreateCmd.Flags().String("subject", "", "Subject (course) ID")
	sessionCreateCmd.Flags().String("owner", "", "Owner (lecturer) ID")
	sessionCreateCmd.Flags().String("mode", "manual", "Free-form session mode")
	sessionCreateCmd.Flags().Int("minutes", 60, "Session duration in minutes")
	sessionCreateCmd.MarkFlagRequired("group")
	sessionCreateCmd.MarkFlagRequired("subject")
	sessionCreateCmd.MarkFlagRequired("owner")

	for _, c := range []*cobra.Command{sessionActiveCmd, sessionListCmd} {
		c.Flags().String("group", "", "Group to look up")
		c.MarkFlagRequired("group")
	}
}

func printSession(sess *database.Session) {
	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("  Group:    %s\n", sess.GroupID)
	fmt.Printf("  Subject:  %s (owner %s, mode %s)\n", sess.SubjectID, sess.OwnerID, sess.Mode)
	fmt.Printf("  Status:   %s\n", sess.Status)
	fmt.Printf("  Started:  %s\n", sess.StartTime.Local().Format(time.DateTime))
	fmt.Printf("  Expires:  %s\n", sess.ExpiresAt.Local().Format(time.DateTime))
	if sess.EndedAt != nil {
		fmt.Printf("  Ended:    %s\n", sess.EndedAt.Local().Format(time.DateTime))
	}
	fmt.Printf("  Join code: %s\n", sess.JoinCode)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.svc.CreateSession(ctx, session.CreateRequest{
		GroupID:         mustGetString(cmd, "group"),
		SubjectID:       mustGetString(cmd, "subject"),
		OwnerID:         mustGetString(cmd, "owner"),
		Mode:            mustGetString(cmd, "mode"),
		DurationMinutes: mustGetInt(cmd, "minutes"),
	})
	if err != nil {
		return err
	}
	printSession(sess)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.EndSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s ended\n", args[0])
	return nil
}

func runSessionActive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	group := mustGetString(cmd, "group")
	sess, err := a.svc.GetActiveSession(ctx, group)
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Printf("No active session for %s\n", group)
		return nil
	}
	printSession(sess)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.svc.ListSessions(ctx, mustGetString(cmd, "group"))
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	fmt.Printf("%-36s  %-8s  %-12s  %s\n", "ID", "STATUS", "SUBJECT", "STARTED")
	for _, sess := range sessions {
		fmt.Printf("%-36s  %-8s  %-12s  %s\n", sess.ID, sess.Status, sess.SubjectID,
			sess.StartTime.Local().Format(time.DateTime))
	}
	return nil
}
