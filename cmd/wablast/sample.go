package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wablast/wablast/internal/contacts"
)

var sampleOut string

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Write a sample customer CSV file",
	RunE:  runSample,
}

func init() {
	sampleCmd.Flags().StringVarP(&sampleOut, "out", "o", "customers.csv", "Output file path")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	f, err := os.Create(sampleOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", sampleOut, err)
	}
	defer f.Close()

	list := contacts.Sample()
	if err := contacts.WriteCSV(f, list); err != nil {
		return fmt.Errorf("failed to write %s: %w", sampleOut, err)
	}

	fmt.Printf("Wrote %d sample customer(s) to %s\n", len(list), sampleOut)
	return nil
}
