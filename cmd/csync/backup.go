package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/caracterizacion-sync/internal/backup"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

func createBackup(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshot, err := a.records.CreateBackup(c.Context, models.BackupManual)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	fmt.Printf("%s Backup created\n", green("✓"))
	printBackup(*snapshot)

	if !c.Bool("push") {
		return nil
	}
	return a.pushSnapshot(c.Context, snapshot)
}

func listBackups(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.records.Backups(c.Context)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No backups")
		return nil
	}
	for _, b := range list {
		printBackup(b)
	}
	return nil
}

func pushBackup(c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("backup id is required")
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshot, err := a.records.Backup(c.Context, id)
	if err != nil {
		return err
	}
	return a.pushSnapshot(c.Context, snapshot)
}

func (a *app) pushSnapshot(ctx context.Context, snapshot *models.BackupSnapshot) error {
	uploader, err := backup.NewUploader(a.cfg.Backup, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create backup uploader: %w", err)
	}
	if err := uploader.Check(ctx); err != nil {
		return err
	}
	key, err := uploader.Push(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("failed to push backup %d: %w", snapshot.ID, err)
	}
	fmt.Printf("%s Backup %d copied to %s/%s\n", green("✓"), snapshot.ID, a.cfg.Backup.Bucket, key)
	return nil
}

// autoBackup snapshots the store after a pass changed it, and copies the
// snapshot off the device when a destination is configured. Failures are
// logged only.
func (a *app) autoBackup(ctx context.Context) {
	snapshot, err := a.records.CreateBackup(ctx, models.BackupAuto)
	if err != nil {
		a.logger.Warn("Automatic backup failed", slog.String("error", err.Error()))
		return
	}
	if !a.cfg.Backup.Enabled() {
		return
	}
	uploader, err := backup.NewUploader(a.cfg.Backup, a.logger)
	if err != nil {
		a.logger.Warn("Backup destination misconfigured", slog.String("error", err.Error()))
		return
	}
	if _, err := uploader.Push(ctx, snapshot); err != nil {
		a.logger.Warn("Automatic backup not copied", slog.Int64("backup_id", snapshot.ID), slog.String("error", err.Error()))
	}
}
