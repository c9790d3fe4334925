// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lmittmann/tint"
	"github.com/poiesic/docvault"
	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/interchange"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docvault",
		Usage: "Encrypted, versioned local document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Database directory (overrides the configuration file)",
			},
			&cli.StringFlag{
				Name:  "key-dir",
				Usage: "Key material directory (overrides the configuration file)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the database and set up the encryption key",
				Action: initCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "passphrase",
						Usage: "Derive the key from this passphrase instead of a generated backup code",
					},
				},
			},
			{
				Name:      "recover-key",
				Usage:     "Re-derive the encryption key from a backup code",
				Action:    recoverKeyCommand,
				ArgsUsage: "<backup code>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "salt",
						Usage:    "Hex encoded salt printed by init",
						Required: true,
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List works or templates",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "templates", Usage: "List templates instead of works"},
					&cli.BoolFlag{Name: "deleted", Usage: "Only list items in the trash"},
					&cli.BoolFlag{Name: "starred", Usage: "Only list starred items"},
					&cli.StringFlag{Name: "search", Usage: "Match title, category or tags"},
					&cli.StringFlag{Name: "category", Usage: "Filter by category"},
					&cli.StringFlag{Name: "tag", Usage: "Filter by tag"},
					&cli.StringFlag{Name: "sort", Usage: "Sort field (title, category, lastModified, createdAt, nodeCount)", Value: string(core.SortByLastModified)},
					&cli.StringFlag{Name: "order", Usage: "Sort order (asc, desc)", Value: string(core.SortDesc)},
					&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
					&cli.IntFlag{Name: "page-size", Usage: "Items per page", Value: core.DefaultPageSize},
				},
			},
			{
				Name:      "show",
				Usage:     "Print a decrypted work or template",
				ArgsUsage: "<id>",
				Action:    showCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "template", Usage: "The id names a template"},
				},
			},
			{
				Name:      "export",
				Usage:     "Export a work or template",
				ArgsUsage: "<id>",
				Action:    exportCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "template", Usage: "The id names a template"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Export format (json, yaml)", Value: string(interchange.FormatJSON)},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
				},
			},
			{
				Name:      "import",
				Usage:     "Import a work or template from a file",
				ArgsUsage: "<file>",
				Action:    importCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "template", Usage: "Import as a template"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Import format (default from the file extension)"},
				},
			},
			{
				Name:      "history",
				Usage:     "List the versions of a work",
				ArgsUsage: "<work id>",
				Action:    historyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
					&cli.IntFlag{Name: "page-size", Usage: "Versions per page", Value: core.DefaultPageSize},
				},
			},
			{
				Name:      "restore-version",
				Usage:     "Make a version the current content of its work",
				ArgsUsage: "<work id> <version id>",
				Action:    restoreVersionCommand,
			},
			{
				Name:      "cleanup-versions",
				Usage:     "Delete all but the newest versions of a work",
				ArgsUsage: "<work id>",
				Action:    cleanupVersionsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "keep", Usage: "Number of versions to keep", Value: 10},
				},
			},
			{
				Name:   "usage",
				Usage:  "Report storage usage",
				Action: usageCommand,
			},
			{
				Name:   "backup",
				Usage:  "Write a compressed backup of the database",
				Action: backupCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Backup file", Required: true},
				},
			},
			{
				Name:   "restore",
				Usage:  "Replace the database with a backup",
				Action: restoreCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "Backup file", Required: true},
				},
			},
			{
				Name:   "reset",
				Usage:  "Irreversibly delete every stored record",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm the reset"},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(tint.NewHandler(c.App.ErrWriter, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig builds the configuration from the config file and flags.
func loadConfig(c *cli.Context) (docvault.Config, error) {
	cfg := docvault.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = docvault.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if dir := c.String("key-dir"); dir != "" {
		cfg.KeyDir = dir
	}
	if cfg.KeyDir == "" && !cfg.InMemory {
		cfg.KeyDir = filepath.Clean(cfg.DataDir) + "-keys"
	}
	return cfg, nil
}

// openStorage opens and initializes the store for one command.
func openStorage(c *cli.Context, adjust ...func(*docvault.Config)) (*docvault.Storage, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		fn(&cfg)
	}
	s, err := docvault.New(cfg, docvault.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(c.Context); err != nil {
		return nil, err
	}
	return s, nil
}

func initCommand(c *cli.Context) error {
	ctx := c.Context
	s, err := openStorage(c, func(cfg *docvault.Config) {
		cfg.AutoGenerateKey = false
		cfg.SeedTemplates = false
	})
	if err != nil {
		return err
	}
	if s.HasKey(ctx) {
		s.Close()
		fmt.Fprintln(c.App.Writer, "Encryption key already configured.")
		return nil
	}

	setup, err := s.SetupKey(ctx, c.String("passphrase"))
	if err != nil {
		s.Close()
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}

	// Reopen so the built-in templates are seeded with the new key
	s, err = openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	w := c.App.Writer
	fmt.Fprintln(w, "Encryption key configured.")
	if c.String("passphrase") == "" {
		fmt.Fprintf(w, "Backup code: %s\n", setup.BackupCode)
	}
	fmt.Fprintf(w, "Salt:        %s\n", hex.EncodeToString(setup.Salt))
	fmt.Fprintln(w, "Store both somewhere safe; they are required to recover the key.")
	return nil
}

func recoverKeyCommand(c *cli.Context) error {
	code := strings.Join(c.Args().Slice(), " ")
	if code == "" {
		return errors.New("backup code is required")
	}
	salt, err := hex.DecodeString(c.String("salt"))
	if err != nil {
		return fmt.Errorf("invalid salt: %w", err)
	}
	s, err := openStorage(c, func(cfg *docvault.Config) { cfg.AutoGenerateKey = false })
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.RecoverKey(c.Context, code, salt); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Encryption key recovered.")
	return nil
}

func listOptions(c *cli.Context) core.ListOptions {
	return core.ListOptions{
		DeletedOnly: c.Bool("deleted"),
		StarredOnly: c.Bool("starred"),
		Search:      c.String("search"),
		Category:    c.String("category"),
		Tag:         c.String("tag"),
		SortBy:      core.SortField(c.String("sort")),
		Order:       core.SortOrder(c.String("order")),
		Page:        c.Int("page"),
		PageSize:    c.Int("page-size"),
	}
}

func listCommand(c *cli.Context) error {
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := listOptions(c)
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	var (
		docs      []*core.Document
		total     int
		corrupted []string
	)
	if c.Bool("templates") {
		result, err := s.ListTemplates(c.Context, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tNODES\tUSED\tMODIFIED")
		for _, tpl := range result.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", tpl.ID, tpl.Title, tpl.TemplateType,
				tpl.NodeCount, tpl.UsageCount, tpl.LastModified.Local().Format(time.DateTime))
		}
		total, corrupted = result.Total, result.Corrupted
	} else {
		result, err := s.ListWorks(c.Context, opts)
		if err != nil {
			return err
		}
		docs = result.Items
		fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tNODES\tVERSION\tMODIFIED")
		for _, doc := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", doc.ID, doc.Title, doc.Category,
				doc.NodeCount, doc.DataVersion, doc.LastModified.Local().Format(time.DateTime))
		}
		total, corrupted = result.Total, result.Corrupted
	}
	fmt.Fprintf(tw, "\n%d total\n", total)
	for _, id := range corrupted {
		fmt.Fprintf(tw, "corrupted: %s\n", id)
	}
	return nil
}

func showCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("id is required")
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		doc *core.Document
		tpl *core.Template
	)
	w := c.App.Writer
	if c.Bool("template") {
		if tpl, err = s.GetTemplate(c.Context, id); err != nil {
			return err
		}
		doc = &tpl.Document
	} else {
		if doc, err = s.GetWork(c.Context, id); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "ID:        %s\n", doc.ID)
	fmt.Fprintf(w, "Title:     %s\n", doc.Title)
	fmt.Fprintf(w, "Category:  %s\n", doc.Category)
	fmt.Fprintf(w, "Tags:      %s\n", strings.Join(doc.Tags, ", "))
	fmt.Fprintf(w, "Version:   %d\n", doc.DataVersion)
	fmt.Fprintf(w, "Modified:  %s\n", doc.LastModified.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Checksum:  %s\n", doc.Checksum)
	if tpl != nil {
		fmt.Fprintf(w, "Type:      %s\n", tpl.TemplateType)
		fmt.Fprintf(w, "Theme:     %s\n", tpl.Theme.Name)
		fmt.Fprintf(w, "Layout:    %s\n", tpl.Layout.Kind)
		fmt.Fprintf(w, "Used:      %d\n", tpl.UsageCount)
	}
	fmt.Fprintf(w, "Nodes:     %d\n", doc.NodeCount)
	if doc.Content != nil {
		for _, n := range doc.Content.Nodes {
			fmt.Fprintf(w, "  %s- %s\n", strings.Repeat("  ", n.Level), n.Text)
		}
	}
	return nil
}

func exportCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("id is required")
	}
	format, err := interchange.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	var data []byte
	if c.Bool("template") {
		data, err = s.ExportTemplate(c.Context, id, format)
	} else {
		data, err = s.ExportWork(c.Context, id, format)
	}
	if err != nil {
		return err
	}

	if out := c.String("out"); out != "" {
		return os.WriteFile(out, data, 0600)
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func importCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("file is required")
	}
	name := c.String("format")
	if name == "" {
		name = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	format, err := interchange.ParseFormat(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	var id string
	if c.Bool("template") {
		tpl, err := s.ImportTemplate(c.Context, data, format)
		if err != nil {
			return err
		}
		id = tpl.ID
	} else {
		doc, err := s.ImportWork(c.Context, data, format)
		if err != nil {
			return err
		}
		id = doc.ID
	}
	fmt.Fprintln(c.App.Writer, id)
	return nil
}

func historyCommand(c *cli.Context) error {
	workID := c.Args().First()
	if workID == "" {
		return errors.New("work id is required")
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.GetVersions(c.Context, workID, c.Int("page"), c.Int("page-size"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "VERSION\tID\tOPERATION\tNODES\tCREATED\tDESCRIPTION")
	for _, v := range result.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", v.VersionNumber, v.ID, v.Operation,
			v.NodeCount, v.CreatedAt.Local().Format(time.DateTime), v.Description)
	}
	fmt.Fprintf(tw, "\n%d total\n", result.Total)
	return nil
}

func restoreVersionCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("work id and version id are required")
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	doc, err := s.RestoreVersion(c.Context, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Restored %s, now at data version %d\n", doc.ID, doc.DataVersion)
	return nil
}

func cleanupVersionsCommand(c *cli.Context) error {
	workID := c.Args().First()
	if workID == "" {
		return errors.New("work id is required")
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.CleanupOldVersions(c.Context, workID, c.Int("keep"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d versions\n", n)
	return nil
}

func usageCommand(c *cli.Context) error {
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	usage, err := s.GetStorageUsage(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Used:  %d bytes\nTotal: %d bytes\nUsage: %.2f%%\n", usage.Used, usage.Total, usage.Percentage)
	return nil
}

func backupCommand(c *cli.Context) error {
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.OpenFile(c.String("out"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	version, err := s.Backup(c.Context, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Backup written at version %d\n", version)
	return nil
}

func restoreCommand(c *cli.Context) error {
	f, err := os.Open(c.String("in"))
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := openStorage(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.RestoreBackup(c.Context, f); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Backup restored.")
	return nil
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("reset deletes every record; pass --yes to confirm")
	}
	s, err := openStorage(c)
	if err != nil {
		return err
	}
	if err := s.DeleteDatabase(context.WithoutCancel(c.Context)); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Database deleted.")
	return nil
}
