package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
	"github.com/chmdznr/caracterizacion-sync/pkg/utils"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func statusLabel(s models.Status) string {
	switch s {
	case models.StatusSynced:
		return green(string(s))
	case models.StatusSyncError:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func printRecordLine(rec models.Characterization) {
	doc := rec.DocumentNumber()
	if doc == "" {
		doc = "-"
	}
	fmt.Printf("%-36s %-22s doc %-14s %s\n",
		bold(rec.LocalReference), statusLabel(rec.Status), doc, faint(ago(rec.CreatedAt)))
}

func printRecord(rec models.Characterization) {
	fmt.Printf("Local reference:    %s\n", bold(rec.LocalReference))
	if rec.OfficialReference != "" {
		fmt.Printf("Official reference: %s\n", rec.OfficialReference)
	}
	fmt.Printf("Status:             %s\n", statusLabel(rec.Status))
	fmt.Printf("Document:           %s\n", rec.DocumentNumber())
	fmt.Printf("Created:            %s (%s)\n", rec.CreatedAt.Local().Format(time.DateTime), ago(rec.CreatedAt))
	if rec.SyncedAt != nil {
		fmt.Printf("Synced:             %s (%s)\n", rec.SyncedAt.Local().Format(time.DateTime), ago(*rec.SyncedAt))
	}
	if rec.SyncAttemptCount > 0 {
		fmt.Printf("Attempts:           %d\n", rec.SyncAttemptCount)
	}
	if rec.LastSyncError != "" {
		fmt.Printf("Last error:         %s\n", red(rec.LastSyncError))
	}
}

func printResult(result syncer.Result) {
	summary := result.Summary()
	switch {
	case result.Busy || result.Reason != "":
		fmt.Println(yellow(summary))
	case result.Failed > 0:
		fmt.Println(red(summary))
	default:
		fmt.Println(green(summary))
	}
	for _, msg := range result.Errors {
		fmt.Printf("  %s %s\n", red("x"), msg)
	}
	if result.PassID != "" {
		fmt.Println(faint(fmt.Sprintf("pass %s in %s", result.PassID, utils.FormatDuration(result.Duration))))
	}
}

func printBackup(b models.BackupSnapshot) {
	fmt.Printf("#%-4d %-6s %4d record(s) %9s  %s  %s\n",
		b.ID, b.Kind, b.RecordCount, utils.FormatSize(b.Size), b.Checksum[:min(12, len(b.Checksum))], faint(ago(b.CreatedAt)))
}
