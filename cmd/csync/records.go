package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v2"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/internal/export"
	"github.com/chmdznr/caracterizacion-sync/internal/records"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// createRecord saves one survey locally and prints its local reference.
// When the store cannot be written the reference is still printed so the
// advisor keeps a receipt.
func createRecord(c *cli.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return fmt.Errorf("survey must be a JSON object")
	}

	a, err := open(c)
	if apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		ref := records.NewLocalReference(time.Now().UTC())
		fmt.Printf("%s record %s was NOT saved: %v\n", red("!"), bold(ref), err)
		return fmt.Errorf("record %s was not saved: %w", ref, err)
	}
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.records.Create(c.Context, payload, a.owner(c))
	if err != nil {
		if rec != nil {
			fmt.Printf("%s record %s was NOT saved: %v\n", red("!"), bold(rec.LocalReference), err)
		}
		return err
	}

	fmt.Printf("%s Saved locally as %s, pending sync\n", green("✓"), bold(rec.LocalReference))
	return nil
}

func (a *app) owner(c *cli.Context) models.Owner {
	if a.session.Authenticated() {
		return a.session.Owner()
	}
	return models.Owner{ID: c.String("owner-id"), Email: c.String("owner-email")}
}

func readPayload(c *cli.Context) (models.Payload, error) {
	if data := c.String("data"); data != "" {
		return models.Payload(data), nil
	}
	switch path := c.String("file"); path {
	case "":
		return nil, fmt.Errorf("either --file or --data is required")
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("error reading stdin: %v", err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading survey file: %v", err)
		}
		return data, nil
	}
}

// importRecords saves every element of a JSON array as a pending record.
// Elements that are not objects are skipped and counted.
func importRecords(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("JSON file path is required")
	}
	batchSize := c.Int("batch")
	if batchSize <= 0 {
		batchSize = 100
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error opening JSON file: %v", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%s is not valid JSON", path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return fmt.Errorf("%s must contain a JSON array of surveys", path)
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	owner := a.owner(c)
	imported, skipped := 0, 0
	var importErr error
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			skipped++
			return true
		}
		if _, err := a.records.Create(c.Context, models.Payload(value.Raw), owner); err != nil {
			importErr = fmt.Errorf("error saving element %d: %w", key.Int(), err)
			return false
		}
		imported++
		if imported%batchSize == 0 {
			fmt.Printf("Imported %d records...\n", imported)
		}
		return true
	})

	fmt.Printf("\nImport Summary:\n")
	fmt.Printf("- Saved as pending sync: %d\n", imported)
	fmt.Printf("- Skipped (not an object): %d\n", skipped)
	return importErr
}

func listRecords(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.records.List(c.Context, models.Status(c.String("status")))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No records")
		return nil
	}
	for _, rec := range list {
		printRecordLine(rec)
	}
	fmt.Printf("\n%d record(s)\n", len(list))
	return nil
}

func listErrors(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.records.ErrorList(c.Context)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println(green("No rejected records"))
		return nil
	}
	for _, rec := range list {
		printRecordLine(rec)
		fmt.Printf("    %s (%d attempt(s))\n", red(rec.LastSyncError), rec.SyncAttemptCount)
	}
	return nil
}

func retryRecords(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	var targets []models.Characterization
	if c.Bool("all") {
		if targets, err = a.records.ErrorList(c.Context); err != nil {
			return err
		}
	} else {
		ref := c.Args().First()
		if ref == "" {
			return fmt.Errorf("a reference or --all is required")
		}
		rec, err := a.records.FindByReference(c.Context, ref)
		if err != nil {
			return err
		}
		targets = append(targets, *rec)
	}

	for _, rec := range targets {
		if err := a.records.Retry(c.Context, rec.ID); err != nil {
			return fmt.Errorf("failed to retry %s: %w", rec.LocalReference, err)
		}
		fmt.Printf("%s %s back in the sync queue\n", green("✓"), rec.LocalReference)
	}
	if len(targets) == 0 {
		fmt.Println("Nothing to retry")
	}
	return nil
}

func deleteRecord(c *cli.Context) error {
	ref := c.Args().First()
	if ref == "" {
		return fmt.Errorf("reference is required")
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.records.FindByReference(c.Context, ref)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusSynced && !c.Bool("force") {
		return fmt.Errorf("record %s is %s and has not reached the server; use --force to delete it anyway", rec.LocalReference, rec.Status)
	}
	if err := a.records.Delete(c.Context, rec.ID); err != nil {
		return err
	}

	fmt.Printf("Record %s deleted\n", rec.LocalReference)
	return nil
}

func lookupRecords(c *cli.Context) error {
	ref, document := c.String("ref"), c.String("document")
	if ref == "" && document == "" {
		return fmt.Errorf("--ref or --document is required")
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if ref != "" {
		rec, err := a.records.FindByReference(c.Context, ref)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			fmt.Printf("No record with reference %s\n", ref)
			return nil
		}
		if err != nil {
			return err
		}
		printRecord(*rec)
		return nil
	}

	list, err := a.records.FindByOwnerDocument(c.Context, document)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No records for document %s\n", document)
		return nil
	}
	for _, rec := range list {
		printRecordLine(rec)
	}
	return nil
}

// showStatus shows record counts per state, the last successful sync and who
// is signed in
func showStatus(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.records.Stats(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}

	fmt.Printf("Database: %s\n", a.cfg.DBPath)
	fmt.Printf("Total Records: %d\n", stats.Total)
	fmt.Printf("Pending Sync: %s\n", yellow(stats.Pending))
	fmt.Printf("Synced: %s\n", green(stats.Synced))
	fmt.Printf("Sync Errors: %s\n", red(stats.Errors))
	if stats.Total > 0 {
		fmt.Printf("Progress: %.2f%%\n", float64(stats.Synced)/float64(stats.Total)*100)
	}
	if stats.LastSyncAt != nil {
		fmt.Printf("Last Sync: %s (%s)\n", stats.LastSyncAt.Local().Format(time.DateTime), ago(*stats.LastSyncAt))
	} else {
		fmt.Println("Last Sync: never")
	}

	if st := a.session.Current(); st.Authenticated {
		who := st.Owner.Email
		if who == "" {
			who = st.Owner.ID
		}
		fmt.Printf("Signed in as: %s (token expires %s)\n", who, ago(st.ExpiresAt))
	} else {
		fmt.Println("Signed in as: " + faint("nobody"))
	}
	return nil
}

func showLog(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.records.SyncLog(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync attempts yet")
		return nil
	}
	for _, e := range entries {
		mark := green("ok  ")
		if !e.Success {
			mark = red("fail")
		}
		fmt.Printf("%s %s %-36s %s\n", faint(e.CreatedAt.Local().Format(time.DateTime)), mark, e.LocalReference, e.Message)
	}
	return nil
}

func exportRecords(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.records.List(c.Context, models.Status(c.String("status")))
	if err != nil {
		return err
	}
	out := c.String("out")
	if err := export.SaveXLSX(out, list); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}

	fmt.Printf("Exported %d record(s) to %s\n", len(list), out)
	return nil
}
