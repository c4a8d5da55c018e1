package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/internal/search"
	"github.com/mailprobe/mailprobe/internal/store"
	"github.com/mailprobe/mailprobe/pkg/types"
)

var version = "dev"

const (
	exitOK        = 0
	exitFailed    = 1
	exitCancelled = 2
	exitUsage     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion = flag.Bool("version", false, "Show version information")

		accountName = flag.String("account", "", "Account name from the accounts file")
		folder      = flag.String("folder", "", "Root folder path to search under")
		subject     = flag.String("subject", "", "Subject substring, case-insensitive")
		sender      = flag.String("sender", "", "Sender substring, case-insensitive")
		readState   = flag.String("read", "", "Read state filter: any, read or unread")

		withAttachments = flag.Bool("with-attachments", false, "Only messages that carry attachments")
		noAttachments   = flag.Bool("no-attachments", false, "Only messages without attachments")
		attachmentName  = flag.String("attachment-name", "", "Attachment filename substring")
		attachmentExt   = flag.String("attachment-ext", "", "Attachment filename extension, e.g. pdf")

		period   = flag.String("period", "", "Named period: last-week, last-month, last-3-months, last-6-months")
		fromDate = flag.String("from", "", "Start of received-date range, YYYY-MM-DD")
		toDate   = flag.String("to", "", "End of received-date range, YYYY-MM-DD")

		exclude     = flag.String("exclude", "", "Comma-separated folder paths to skip")
		excludeMode = flag.Bool("exclude-as-allowlist", false, "Treat -exclude as an allow-list instead")

		pageIndex = flag.Int("page", 0, "Zero-based page index")
		pageSize  = flag.Int("page-size", 50, "Page size: 10, 20, 50 or 100")

		saveAs   = flag.String("save", "", "Store these criteria under a name and exit")
		loadName = flag.String("load", "", "Run the saved search with this name")
		listSet  = flag.Bool("list-saved", false, "List saved searches and exit")
		deleteBy = flag.String("delete-saved", "", "Delete the saved search with this name and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailprobe version %s\n", version)
		return exitOK
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return exitUsage
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	searches, err := store.Open(cfg.SavedSearchPath, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open saved-search store")
		return exitFailed
	}
	defer searches.Close()

	if *listSet {
		return listSaved(searches, logger)
	}
	if *deleteBy != "" {
		if err := searches.Delete(*deleteBy); err != nil {
			logger.WithError(err).Error("Failed to delete saved search")
			return exitFailed
		}
		fmt.Printf("deleted %q\n", *deleteBy)
		return exitOK
	}

	criteria, err := buildCriteria(*folder, *subject, *sender, *readState,
		*withAttachments, *noAttachments, *attachmentName, *attachmentExt,
		*period, *fromDate, *toDate, *exclude, *excludeMode)
	if err != nil {
		logger.WithError(err).Error("Invalid search criteria")
		return exitUsage
	}

	if *loadName != "" {
		loaded, err := searches.Load(*loadName)
		if err != nil {
			logger.WithError(err).Error("Failed to load saved search")
			return exitFailed
		}
		criteria = loaded
	}

	if *saveAs != "" {
		if err := searches.Save(*saveAs, criteria); err != nil {
			logger.WithError(err).Error("Failed to save search")
			return exitFailed
		}
		fmt.Printf("saved %q\n", *saveAs)
		return exitOK
	}

	if *accountName == "" {
		logger.Error("An account name is required, pass -account")
		return exitUsage
	}
	accounts, err := config.LoadAccounts(cfg.AccountsPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load accounts file")
		return exitUsage
	}
	account, err := config.AccountByName(accounts, *accountName)
	if err != nil {
		logger.WithError(err).Error("Unknown account")
		return exitUsage
	}

	engine := search.NewEngine(cfg, logger)
	s, err := engine.Start(context.Background(), account, *criteria,
		search.PageRequest{Index: *pageIndex, Size: *pageSize})
	if err != nil {
		logger.WithError(err).Error("Failed to start search")
		return exitUsage
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.WithField("signal", sig).Info("Cancelling search")
		s.Cancel()
	}()

	go func() {
		for ev := range s.Progress() {
			logger.WithFields(logrus.Fields{
				"stage":            ev.Stage,
				"folder":           ev.FolderPath,
				"messages_scanned": ev.MessagesScanned,
				"matches":          ev.Matches,
			}).Info(ev.Message)
		}
	}()

	result := <-s.Result()
	<-s.Done()
	signal.Stop(sigChan)
	close(sigChan)

	switch {
	case result.Cancelled:
		logger.WithField("messages_scanned", result.Stats.MessagesScanned).Info("Search cancelled")
		return exitCancelled
	case result.Err != nil:
		logger.WithError(result.Err).Error("Search failed")
		return exitFailed
	}

	out, err := json.MarshalIndent(struct {
		Page  any          `json:"page"`
		Stats search.Stats `json:"stats"`
	}{result.Page, result.Stats}, "", "  ")
	if err != nil {
		logger.WithError(err).Error("Failed to render result")
		return exitFailed
	}
	fmt.Println(string(out))
	return exitOK
}

func listSaved(searches *store.Store, logger *logrus.Logger) int {
	saved, err := searches.List()
	if err != nil {
		logger.WithError(err).Error("Failed to list saved searches")
		return exitFailed
	}
	for _, rec := range saved {
		fmt.Printf("%s\t(updated %s)\n", rec.Name, rec.UpdatedAt)
	}
	return exitOK
}

func buildCriteria(folder, subject, sender, readState string,
	withAttachments, noAttachments bool, attachmentName, attachmentExt string,
	period, fromDate, toDate, exclude string, excludeMode bool) (*search.Criteria, error) {

	criteria := &search.Criteria{
		FolderPath:          folder,
		Subject:             subject,
		Sender:              sender,
		AttachmentsRequired: withAttachments,
		NoAttachmentsOnly:   noAttachments,
		AttachmentName:      attachmentName,
		AttachmentExt:       attachmentExt,
		Period:              datetime.Period(period),
		ExcludeMode:         excludeMode,
	}

	switch readState {
	case "", "any":
	case "read", "unread":
		criteria.ReadState = types.ReadState(readState)
	default:
		return nil, fmt.Errorf("unknown read state %q, use any, read or unread", readState)
	}

	if fromDate != "" {
		t, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return nil, fmt.Errorf("invalid -from date %q: %w", fromDate, err)
		}
		criteria.From = t.UTC()
	}
	if toDate != "" {
		t, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return nil, fmt.Errorf("invalid -to date %q: %w", toDate, err)
		}
		// Inclusive end of day.
		criteria.To = t.UTC().Add(24*time.Hour - time.Nanosecond)
	}

	for _, path := range strings.Split(exclude, ",") {
		if path = strings.TrimSpace(path); path != "" {
			criteria.ExcludedFolders = append(criteria.ExcludedFolders, path)
		}
	}

	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return criteria, nil
}
