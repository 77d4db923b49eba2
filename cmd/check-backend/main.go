package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/logger"
	"github.com/stemsi/sentraexam-proctor/internal/model"
	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
	"golang.org/x/term"
)

// check-backend logs in to the configured Sentraexam API the way the proctor
// does and, optionally, loads one exam. Operators run it before an exam
// window to confirm the proctor can reach the backend.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := sentraexam.NewClient(cfg.SentraexamURL, cfg.SentraexamTimeout, log)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("=== Check Sentraexam Backend (%s) ===\n", cfg.SentraexamURL)

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}

	fmt.Print("Exam ID to load (optional): ")
	examID, _ := reader.ReadString('\n')
	examID = strings.TrimSpace(examID)
	if examID != "" {
		if _, err := uuid.Parse(examID); err != nil {
			fmt.Println("Error: Exam ID must be a UUID")
			return
		}
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	pair, err := client.ObtainTokens(ctx, email, string(bytePassword))
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	learner := client.Learner(sentraexam.NewMemoryTokens(pair))

	user, err := learner.CurrentUser(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load account")
	}
	fmt.Printf("\nLogged in as %s %s <%s>, role %s\n", user.FirstName, user.LastName, user.Email, user.Role)
	if user.Role != model.RoleStudent {
		fmt.Println("Warning: only STUDENT accounts can take exams through the proctor")
	}

	if examID == "" {
		return
	}

	a, err := learner.GetAssessment(ctx, examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load exam")
	}
	fmt.Printf("Exam %q: format %s, %d questions, %d minutes\n",
		a.Title, a.SubmissionFormat, len(a.Questions), a.DurationMinutes)
	if a.SubmissionFormat != sentraexam.FormatOnline {
		fmt.Println("Warning: only ONLINE exams are served by the proctor")
	}
	if a.ScheduledAt != nil {
		fmt.Printf("Opens:  %s\n", a.ScheduledAt.Local().Format(time.RFC1123))
	}
	if a.ClosesAt != nil {
		fmt.Printf("Closes: %s\n", a.ClosesAt.Local().Format(time.RFC1123))
	}
}
