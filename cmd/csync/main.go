package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/caracterizacion-sync/internal/config"
	"github.com/chmdznr/caracterizacion-sync/internal/db"
	"github.com/chmdznr/caracterizacion-sync/pkg/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	flags := config.Flags()

	return &cli.App{
		Name:                 "csync",
		Usage:                "Offline-first store and sync queue for land characterization surveys",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags:                flags,
		Before:               config.Before(flags),
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Save a completed survey locally as pending sync",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Path to the survey JSON object, - for stdin",
					},
					&cli.StringFlag{
						Name:  "data",
						Usage: "Survey JSON object given inline",
					},
					&cli.StringFlag{
						Name:  "owner-id",
						Usage: "Advisor id, when no token is configured",
					},
					&cli.StringFlag{
						Name:  "owner-email",
						Usage: "Advisor email, when no token is configured",
					},
				},
				Action: createRecord,
			},
			{
				Name:      "import",
				Usage:     "Save every survey of a JSON array file locally",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch",
						Usage: "Report progress every N records",
						Value: 100,
					},
				},
				Action: importRecords,
			},
			{
				Name:  "list",
				Usage: "List local records, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "PENDING_SYNC, SYNCED or SYNC_ERROR",
					},
				},
				Action: listRecords,
			},
			{
				Name:   "errors",
				Usage:  "List records the server rejected",
				Action: listErrors,
			},
			{
				Name:      "retry",
				Usage:     "Return rejected records to the sync queue",
				ArgsUsage: "[REFERENCE]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Retry every rejected record",
					},
				},
				Action: retryRecords,
			},
			{
				Name:      "delete",
				Usage:     "Delete a local record",
				ArgsUsage: "REFERENCE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Delete even if the record never reached the server",
					},
				},
				Action: deleteRecord,
			},
			{
				Name:  "lookup",
				Usage: "Find records by reference or beneficiary document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "ref",
						Usage: "Local or official reference",
					},
					&cli.StringFlag{
						Name:  "document",
						Usage: "Beneficiary document number",
					},
				},
				Action: lookupRecords,
			},
			{
				Name:   "status",
				Usage:  "Show sync statistics",
				Action: showStatus,
			},
			{
				Name:  "sync",
				Usage: "Submit every pending record to the server now",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-probe",
						Usage: "Skip the liveness probe before submitting",
					},
				},
				Action: startSync,
			},
			{
				Name:   "watch",
				Usage:  "Monitor connectivity, sync on sign-in and serve the local HTTP surface",
				Action: watch,
			},
			{
				Name:  "backup",
				Usage: "Manage local backup snapshots",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Snapshot every local record",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "push",
								Usage: "Also copy the snapshot to the backup bucket",
							},
						},
						Action: createBackup,
					},
					{
						Name:   "list",
						Usage:  "List stored snapshots",
						Action: listBackups,
					},
					{
						Name:      "push",
						Usage:     "Copy a stored snapshot to the backup bucket",
						ArgsUsage: "ID",
						Action:    pushBackup,
					},
				},
			},
			{
				Name:  "log",
				Usage: "Show recent per-record sync attempts",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of entries",
						Value: db.DefaultLogLimit,
					},
				},
				Action: showLog,
			},
			{
				Name:  "export",
				Usage: "Export local records to an XLSX spreadsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file",
						Value:   "caracterizaciones.xlsx",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only export records in this state",
					},
				},
				Action: exportRecords,
			},
		},
	}
}
