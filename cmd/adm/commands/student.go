package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"prepapp/internal/observability"
	"prepapp/internal/services"
	contextutils "prepapp/internal/utils"

	"github.com/spf13/cobra"
)

// StudentCommands returns the student management commands
func StudentCommands(reader services.MasteryReader, gradeService services.GradeServiceInterface, sessionService services.SessionServiceInterface, logger *observability.Logger, databaseURL string) *cobra.Command {
	studentCmd := &cobra.Command{
		Use:   "student",
		Short: "Student management commands",
		Long: `Student management commands for the practice engine.

Available commands:
  list     - List all active students
  grade    - Compute and show a student's grade
  generate - Generate practice sessions for a student
  sessions - List a student's generated practice sessions`,
	}

	studentCmd.AddCommand(listStudentsCmd(reader, logger, databaseURL))
	studentCmd.AddCommand(gradeCmd(gradeService, logger))
	studentCmd.AddCommand(generateCmd(sessionService, logger))
	studentCmd.AddCommand(sessionsCmd(reader, logger))

	return studentCmd
}

// listStudentsCmd returns the list command
func listStudentsCmd(reader services.MasteryReader, logger *observability.Logger, databaseURL string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all active students",
		Long:  `List all active students eligible for session generation.`,
		RunE:  runListStudents(reader, logger, databaseURL),
	}
}

// gradeCmd returns the grade command
func gradeCmd(gradeService services.GradeServiceInterface, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "grade [student-id]",
		Short: "Compute a student's grade",
		Long:  `Compute and display the blended performance grade for a student.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runGrade(gradeService, logger),
	}
}

// generateCmd returns the generate command
func generateCmd(sessionService services.SessionServiceInterface, logger *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [student-id]",
		Short: "Generate practice sessions for a student",
		Long:  `Generate one practice session per subject in the student's stream, exactly as the batch worker would.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runGenerate(sessionService, logger),
	}
}

// sessionsCmd returns the sessions command
func sessionsCmd(reader services.MasteryReader, logger *observability.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions [student-id]",
		Short: "List a student's practice sessions",
		Long:  `List the most recently generated practice sessions for a student.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runSessions(reader, logger, &limit),
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of sessions to show")

	return cmd
}

// runListStudents returns a function that lists all active students
func runListStudents(reader services.MasteryReader, logger *observability.Logger, databaseURL string) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		logger.Info(ctx, "Admin command diagnostics", map[string]interface{}{"config_file": os.Getenv("PREP_CONFIG_FILE"), "database_url": maskDatabaseURL(databaseURL)})

		students, err := reader.ListActiveStudents(ctx)
		if err != nil {
			logger.Error(ctx, "Failed to list students", err, map[string]interface{}{})
			return contextutils.WrapError(err, "failed to list students")
		}

		if len(students) == 0 {
			logger.Info(ctx, "No active students found in the database", nil)
			return nil
		}

		fmt.Printf("%-8s %-30s %-8s %-12s\n", "ID", "Name", "Stream", "Created")
		for _, student := range students {
			fmt.Printf("%-8d %-30s %-8s %-12s\n",
				student.ID,
				student.Name,
				string(student.Stream),
				student.CreatedAt.Format("2006-01-02"),
			)
		}

		logger.Info(ctx, "Listed students", map[string]interface{}{"total": len(students)})
		return nil
	}
}

// runGrade returns a function that computes and prints a student's grade
func runGrade(gradeService services.GradeServiceInterface, logger *observability.Logger) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, args []string) error {
		ctx := context.Background()

		studentID, err := parseStudentID(args[0])
		if err != nil {
			return err
		}

		grade, err := gradeService.CalculateGrade(ctx, studentID)
		if err != nil {
			logger.Error(ctx, "Failed to calculate grade", err, map[string]interface{}{"student_id": studentID})
			return contextutils.WrapErrorf(err, "failed to calculate grade for student %d", studentID)
		}

		fmt.Printf("Student %d grade: %s\n", studentID, string(grade))
		return nil
	}
}

// runGenerate returns a function that generates sessions for a student
func runGenerate(sessionService services.SessionServiceInterface, logger *observability.Logger) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, args []string) error {
		ctx := context.Background()

		studentID, err := parseStudentID(args[0])
		if err != nil {
			return err
		}

		logger.Info(ctx, "Generating practice sessions", map[string]interface{}{"student_id": studentID})

		if err := sessionService.GenerateForStudent(ctx, studentID); err != nil {
			logger.Error(ctx, "Session generation failed", err, map[string]interface{}{"student_id": studentID})
			return contextutils.WrapErrorf(err, "session generation failed for student %d", studentID)
		}

		fmt.Printf("Practice sessions generated for student %d\n", studentID)
		return nil
	}
}

// runSessions returns a function that lists a student's sessions
func runSessions(reader services.MasteryReader, logger *observability.Logger, limit *int) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, args []string) error {
		ctx := context.Background()

		studentID, err := parseStudentID(args[0])
		if err != nil {
			return err
		}

		store, ok := reader.(services.SessionStore)
		if !ok {
			return contextutils.ErrorWithContextf("session listing is not available on this reader")
		}

		sessions, err := store.ListPracticeSessions(ctx, studentID, *limit)
		if err != nil {
			logger.Error(ctx, "Failed to list sessions", err, map[string]interface{}{"student_id": studentID})
			return contextutils.WrapErrorf(err, "failed to list sessions for student %d", studentID)
		}

		if len(sessions) == 0 {
			logger.Info(ctx, "No practice sessions found", map[string]interface{}{"student_id": studentID})
			return nil
		}

		fmt.Printf("%-8s %-10s %-10s %-12s %-10s %-10s %-20s\n", "ID", "Subject", "Questions", "Duration", "Done", "Correct", "Created")
		for _, session := range sessions {
			fmt.Printf("%-8d %-10d %-10d %-12s %-10d %-10d %-20s\n",
				session.ID,
				session.SubjectID,
				len(session.QuestionIDs),
				fmt.Sprintf("%d min", session.DurationMin),
				session.CompletedCount,
				session.CorrectCount,
				session.CreatedAt.Format("2006-01-02 15:04"),
			)
		}

		logger.Info(ctx, "Listed sessions", map[string]interface{}{"student_id": studentID, "total": len(sessions)})
		return nil
	}
}

// parseStudentID converts a positional argument into a student id
func parseStudentID(arg string) (int, error) {
	studentID, err := strconv.Atoi(arg)
	if err != nil || studentID <= 0 {
		return 0, contextutils.ErrorWithContextf("invalid student id: %s", arg)
	}
	return studentID, nil
}
