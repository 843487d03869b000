package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wablast/wablast/internal/app"
	"github.com/wablast/wablast/internal/contacts"
	"github.com/wablast/wablast/internal/dispatch"
)

var (
	sendFile     string
	sendMessage  string
	sendImageURL string
	sendImage    string
	sendCaption  string
	sendLive     bool
	sendAddress  string
	sendMinSpent float64
	sendAfter    string
	sendLimit    int
	sendStart    int
	sendEnd      int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a broadcast from a CSV file",
	Long: `Read customers from a CSV file, apply filters and send a personalized
message to each one. Runs in test mode (no messages go out) unless --live
is given. Use {name} in the message or caption to insert the customer name.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "Customer CSV file (required)")
	sendCmd.Flags().StringVar(&sendMessage, "message", "", "Text message template")
	sendCmd.Flags().StringVar(&sendImageURL, "image-url", "", "Image URL to send")
	sendCmd.Flags().StringVar(&sendImage, "image", "", "Local image file to upload and send")
	sendCmd.Flags().StringVar(&sendCaption, "caption", "", "Caption template for image messages")
	sendCmd.Flags().BoolVar(&sendLive, "live", false, "Actually send messages (default is test mode)")
	sendCmd.Flags().StringVar(&sendAddress, "address", "", "Only customers whose address contains this text")
	sendCmd.Flags().Float64Var(&sendMinSpent, "min-spent", 0, "Only customers who spent at least this amount")
	sendCmd.Flags().StringVar(&sendAfter, "after", "", "Only customers who purchased on or after this date (YYYY-MM-DD)")
	sendCmd.Flags().IntVar(&sendLimit, "limit", 0, "Stop after selecting this many customers")
	sendCmd.Flags().IntVar(&sendStart, "start", 0, "First row to include (1-based, after filtering)")
	sendCmd.Flags().IntVar(&sendEnd, "end", 0, "Last row to include (1-based, after filtering)")
	sendCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendMessage == "" && sendImageURL == "" && sendImage == "" {
		return fmt.Errorf("one of --message, --image-url or --image is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if sendLive {
		if err := cfg.ValidateCredentials(); err != nil {
			return fmt.Errorf("cannot send live: %w", err)
		}
	}

	recipients, err := loadRecipients(sendFile)
	if err != nil {
		return err
	}

	selection, err := applySelection(recipients)
	if err != nil {
		return err
	}
	if len(selection) == 0 {
		fmt.Println("No customers match the selection, nothing to send")
		return nil
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Shutdown()

	mode := "TEST"
	if sendLive {
		mode = "LIVE"
	}
	fmt.Printf("Sending to %d customer(s) [%s mode]\n\n", len(selection), mode)

	engine := application.NewEngine(!sendLive, printResult)

	ctx := cmd.Context()
	var report *dispatch.Report
	switch {
	case sendImage != "":
		data, rerr := os.ReadFile(sendImage)
		if rerr != nil {
			return fmt.Errorf("failed to read image: %w", rerr)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(sendImage))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		report, err = engine.RunImageUpload(ctx, selection, data, filepath.Base(sendImage), mimeType, sendCaption)
	case sendImageURL != "":
		report, err = engine.RunImage(ctx, selection, sendImageURL, sendCaption)
	default:
		report, err = engine.RunText(ctx, selection, sendMessage)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s finished: %s\n", report.RunID, report.State)
	fmt.Printf("  Sent:   %d\n", report.Sent)
	fmt.Printf("  Errors: %d\n", report.Errored)
	for _, e := range report.Errors {
		fmt.Printf("    %s: %s\n", e.Ref, e.Message)
	}

	return nil
}

func loadRecipients(path string) ([]contacts.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open customer file: %w", err)
	}
	defer f.Close()

	recipients, result, err := contacts.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read customer file: %w", err)
	}

	fmt.Printf("Loaded %d of %d customer(s) from %s\n", result.Imported, result.Total, path)
	for _, msg := range result.Errors {
		fmt.Printf("  skipped: %s\n", msg)
	}

	return recipients, nil
}

func applySelection(recipients []contacts.Recipient) ([]contacts.Recipient, error) {
	filter := contacts.Filter{
		AddressContains: sendAddress,
		Limit:           sendLimit,
	}
	if sendMinSpent > 0 {
		filter.MinSpent = &sendMinSpent
	}
	if sendAfter != "" {
		after, err := time.Parse(contacts.DateLayout, sendAfter)
		if err != nil {
			return nil, fmt.Errorf("invalid --after date %q: %w", sendAfter, err)
		}
		filter.PurchasedAfter = &after
	}

	selection := contacts.Select(recipients, filter)
	if sendStart > 0 || sendEnd > 0 {
		start, end := sendStart, sendEnd
		if start == 0 {
			start = 1
		}
		if end == 0 {
			end = len(selection)
		}
		// Flags are 1-based, Range is 0-based inclusive.
		selection = contacts.Range(selection, start-1, end-1)
	}

	return selection, nil
}

func printResult(r dispatch.Result) {
	if r.OK {
		if r.Preview != "" {
			fmt.Printf("  OK   %s: %s\n", r.Ref, r.Preview)
		} else {
			fmt.Printf("  OK   %s\n", r.Ref)
		}
		return
	}
	fmt.Printf("  FAIL %s: %s\n", r.Ref, r.Error)
}
