package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/mikey/llm-email-triage/internal/config"
	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/di"
	"github.com/mikey/llm-email-triage/internal/triage"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	svc *triage.Service,
	generator core.TextGenerator,
	flags *di.CLIFlags,
) error {
	defer logger.Sync()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", flags.InputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	msg, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	from := msg.Header.Get("From")
	to := msg.Header.Get("To")
	subject := msg.Header.Get("Subject")
	messageID := strings.Trim(msg.Header.Get("Message-Id"), "<>")
	if messageID == "" {
		messageID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}

	email := &core.Email{
		MessageID:  messageID,
		From:       from,
		To:         strings.Split(to, ","),
		Subject:    subject,
		Body:       string(bodyBytes),
		Headers:    make(map[string][]string),
		ReceivedAt: time.Now(),
	}
	for k, v := range msg.Header {
		email.Headers[k] = v
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", from)
	fmt.Printf("To: %s\n", to)
	fmt.Printf("Subject: %s\n", subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))
	fmt.Printf("\n")

	fmt.Printf("=== Triage ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("llm.provider"))

	startTime := time.Now()
	result, err := svc.TriageProgressive(context.Background(), email, func(quick core.QuickResult) {
		fmt.Printf("Quick estimate: %s (confidence %.2f)\n", quick.Priority, quick.Confidence)
	})
	if err != nil {
		logger.Fatal("Failed to triage email", zap.Error(err))
	}
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Priority: %s\n", result.Priority)
	fmt.Printf("Confidence: %.4f\n", result.Confidence)
	fmt.Printf("Source: %s\n", result.Source)
	if result.SenderShift != 0 {
		fmt.Printf("Sender adjustment: %+d (base priority %s)\n", result.SenderShift, result.BasePriority)
	}
	if result.Blocked {
		fmt.Printf("Blocked: matched pattern %q\n", result.BlockedPattern)
	}
	if result.Record != nil {
		fmt.Printf("Summary: %s\n", result.Record.Summary)
		fmt.Printf("Tags: %s\n", strings.Join(result.Record.Tags, ", "))
		fmt.Printf("Sentiment: %s\n", result.Record.Sentiment)
		for _, item := range result.Record.ActionItems {
			fmt.Printf("Action item: %s\n", item)
		}
		fmt.Printf("Model used: %s\n", result.Record.ModelVersion)
	}
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := generator.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close generator", zap.Error(err))
		}
	}
	return nil
}
