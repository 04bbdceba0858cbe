package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vishnu0414/email-attachment-download/internal/model"
	"github.com/vishnu0414/email-attachment-download/internal/storage"
	"github.com/vishnu0414/email-attachment-download/internal/utils"
)

const flagDateFormat = "2006-01-02"

// AuthCommand runs the OAuth authorization flow: print the URL, read the
// code back, exchange and persist the credential.
func (a *App) AuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail access for the configured account",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := a.cfg.Gmail.UserID
			fmt.Printf("Open this URL in your browser and approve access:\n\n%s\n\n", a.AuthURL("state-token"))
			fmt.Print("Paste the authorization code: ")

			reader := bufio.NewReader(os.Stdin)
			code, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading authorization code: %w", err)
			}
			if err := a.CompleteAuth(cmd.Context(), user, strings.TrimSpace(code)); err != nil {
				return err
			}
			fmt.Println("Gmail account connected.")
			return nil
		},
	}
}

// SearchCommand lists messages with attachments matching the filters.
func (a *App) SearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search Gmail for messages with attachments",
		RunE:  a.runSearch,
	}
	addSearchFlags(cmd)
	cmd.Flags().Int("max", 50, "Maximum messages to list")
	return cmd
}

// DownloadCommand searches and bulk-downloads matching attachments.
func (a *App) DownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download attachments matching filters",
		RunE:  a.runDownload,
	}
	addSearchFlags(cmd)
	cmd.Flags().Int("max", 50, "Maximum messages to scan")
	cmd.Flags().Int("concurrency", 0, "Concurrent fetches (default from config)")
	cmd.Flags().String("zip", "", "Also write unique attachments into this zip file")
	return cmd
}

// HistoryCommand lists previously downloaded attachments.
func (a *App) HistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show download history",
		RunE:  a.runHistory,
	}
	cmd.Flags().String("search", "", "Match filename, subject, or sender")
	cmd.Flags().String("type", "", "Filter by file type (pdf, csv, ...)")
	cmd.Flags().Int("limit", 20, "Rows to show")
	cmd.Flags().Bool("stats", false, "Show aggregate totals instead of rows")
	return cmd
}

// ConfigCommand prints the effective configuration.
func (a *App) ConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Account:        %s\n", a.cfg.Gmail.UserID)
			fmt.Printf("Download dir:   %s\n", a.cfg.Download.BaseDir)
			fmt.Printf("Database:       %s\n", a.cfg.Storage.Database)
			fmt.Printf("Page size:      %d\n", a.cfg.Gmail.PageSize)
			fmt.Printf("Max concurrent: %d\n", a.cfg.Download.MaxConcurrent)
			return nil
		},
	}
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().String("query", "", "Free text search terms")
	cmd.Flags().String("from", "", "Filter by sender")
	cmd.Flags().String("subject", "", "Filter by subject")
	cmd.Flags().String("after", "", "Date filter (YYYY-MM-DD)")
	cmd.Flags().String("before", "", "Date filter (YYYY-MM-DD)")
	cmd.Flags().Int64("larger", 0, "Minimum attachment size in bytes")
	cmd.Flags().String("filename", "", "Filter by attachment filename")
}

func searchQueryFromFlags(cmd *cobra.Command) (model.SearchQuery, error) {
	q := model.SearchQuery{HasAttachment: true}

	q.Text, _ = cmd.Flags().GetString("query")
	q.From, _ = cmd.Flags().GetString("from")
	q.Subject, _ = cmd.Flags().GetString("subject")
	q.LargerThan, _ = cmd.Flags().GetInt64("larger")
	q.FilenameContains, _ = cmd.Flags().GetString("filename")

	if after, _ := cmd.Flags().GetString("after"); after != "" {
		t, err := time.Parse(flagDateFormat, after)
		if err != nil {
			return q, fmt.Errorf("invalid --after date %q: %w", after, err)
		}
		q.After = t
	}
	if before, _ := cmd.Flags().GetString("before"); before != "" {
		t, err := time.Parse(flagDateFormat, before)
		if err != nil {
			return q, fmt.Errorf("invalid --before date %q: %w", before, err)
		}
		q.Before = t
	}
	return q, nil
}

func (a *App) runSearch(cmd *cobra.Command, args []string) error {
	q, err := searchQueryFromFlags(cmd)
	if err != nil {
		return err
	}
	maxMessages, _ := cmd.Flags().GetInt("max")

	it, err := a.Search(cmd.Context(), a.cfg.Gmail.UserID, q)
	if err != nil {
		return err
	}

	shown := 0
	for shown < maxMessages && it.Next(cmd.Context()) {
		s := it.Summary()
		fmt.Printf("%s  %-30s  %s (%d attachments)\n",
			s.Date.Format(flagDateFormat), utils.ExtractEmail(s.From), s.Subject, len(s.Attachments))
		for _, att := range s.Attachments {
			fmt.Printf("    %s (%s)\n", att.Filename, utils.FormatFileSize(att.Size))
		}
		shown++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Printf("%d messages\n", shown)
	return nil
}

func (a *App) runDownload(cmd *cobra.Command, args []string) error {
	q, err := searchQueryFromFlags(cmd)
	if err != nil {
		return err
	}
	maxMessages, _ := cmd.Flags().GetInt("max")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	zipPath, _ := cmd.Flags().GetString("zip")

	it, err := a.Search(cmd.Context(), a.cfg.Gmail.UserID, q)
	if err != nil {
		return err
	}

	var refs []model.AttachmentRef
	scanned := 0
	for scanned < maxMessages && it.Next(cmd.Context()) {
		refs = append(refs, it.Summary().Attachments...)
		scanned++
	}
	if err := it.Err(); err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Println("No attachments found.")
		return nil
	}

	opts := DownloadOptions{MaxConcurrency: concurrency}
	var zipFile *os.File
	if zipPath != "" {
		zipFile, err = os.Create(zipPath)
		if err != nil {
			return fmt.Errorf("creating archive %s: %w", zipPath, err)
		}
		defer zipFile.Close()
		opts.Archive = zipFile
	}

	report, err := a.Download(cmd.Context(), a.cfg.Gmail.UserID, refs, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Downloaded %d, duplicates %d, failed %d, cancelled %d (of %d requested)\n",
		report.Count(model.OutcomeSuccess),
		report.Count(model.OutcomeDuplicate),
		report.Count(model.OutcomeFailed),
		report.Count(model.OutcomeCancelled),
		len(report.Items),
	)
	for _, item := range report.Failures() {
		fmt.Printf("  failed: %s: %v\n", item.Ref.Filename, item.Err)
	}
	return nil
}

func (a *App) runHistory(cmd *cobra.Command, args []string) error {
	search, _ := cmd.Flags().GetString("search")
	filetype, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		stats, err := a.Stats(cmd.Context(), a.cfg.Gmail.UserID)
		if err != nil {
			return err
		}
		fmt.Printf("Total: %d attachments, %s\n",
			stats.TotalCount, utils.FormatFileSize(stats.TotalSize))
		for ft, count := range stats.CountByType {
			fmt.Printf("  %-10s %d\n", ft, count)
		}
		return nil
	}

	records, err := a.History(cmd.Context(), a.cfg.Gmail.UserID, storage.HistoryFilter{
		Search:   search,
		Filetype: filetype,
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Printf("%s  %-10s  %-40s  %s\n",
			rec.CreatedAt.Format(flagDateFormat), rec.Filetype, rec.Filename, utils.FormatFileSize(rec.Size))
	}
	fmt.Printf("%d attachments\n", len(records))
	return nil
}
