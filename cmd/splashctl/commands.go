package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/als-computing/splash-server/internal/config"
	"github.com/als-computing/splash-server/internal/database"
	"github.com/als-computing/splash-server/internal/history"
	"github.com/als-computing/splash-server/internal/pages"
	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/storage"
	"github.com/spf13/cobra"
)

// versionedCollections keep a revision history next to them.
var versionedCollections = map[string]bool{pages.CollectionName: true}

// env carries what commands need; tests swap the connections.
type env struct {
	cfg     *config.Config
	out     io.Writer
	source  func(ctx context.Context, cfg *config.Config) (*database.Source, error)
	objects func(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error)

	src *database.Source
}

func defaultEnv() *env {
	return &env{
		cfg: &config.Config{},
		out: os.Stdout,
		source: func(ctx context.Context, cfg *config.Config) (*database.Source, error) {
			return database.Open(ctx, cfg)
		},
		objects: func(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
			return storage.NewMinIOStorage(ctx, cfg.MinIO)
		},
	}
}

// open connects on first use; later calls share the connection.
func (e *env) open(ctx context.Context) (*database.Source, error) {
	if e.src != nil {
		return e.src, nil
	}
	src, err := e.source(ctx, e.cfg)
	if err != nil {
		return nil, err
	}
	e.src = src
	return src, nil
}

// release disconnects a source opened by open.
func (e *env) release() error {
	if e.src == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.src.Close(ctx)
	e.src = nil
	return err
}

// execute runs cmd and then releases the connection, on failure too.
func (e *env) execute(cmd *cobra.Command) (err error) {
	defer func() {
		if cerr := e.release(); cerr != nil && err == nil {
			err = fmt.Errorf("disconnect: %w", cerr)
		}
	}()
	return cmd.Execute()
}

// docs opens the document service for a collection. Versioned collections
// return their versioned service as the second value.
func (e *env) docs(ctx context.Context, collection string) (service.DocumentService, *service.VersionedService, error) {
	src, err := e.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	if versionedCollections[collection] {
		v, err := service.NewVersionedService(ctx, src.Collection(collection), src.Collection(collection+service.HistorySuffix), service.DefaultIndexes())
		return v, v, err
	}
	b, err := service.NewBaseService(ctx, src.Collection(collection), service.DefaultIndexes())
	return b, nil, err
}

func (e *env) versioned(ctx context.Context, collection string) (*service.VersionedService, error) {
	_, v, err := e.docs(ctx, collection)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("collection %q is not versioned", collection)
	}
	return v, nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:          "splashctl",
		Short:        "Inspect and administer splash documents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if e.cfg.MongoDB.InMemory {
				return nil
			}
			if e.cfg.MongoDB.URI != "" {
				os.Setenv("MONGODB_URI", e.cfg.MongoDB.URI)
			}
			loaded, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if e.cfg.MongoDB.Database != "" {
				loaded.MongoDB.Database = e.cfg.MongoDB.Database
			}
			loaded.MongoDB.Timeout = e.cfg.MongoDB.Timeout
			e.cfg = loaded
			return nil
		},
	}
	root.SetOut(e.out)
	root.PersistentFlags().StringVar(&e.cfg.MongoDB.URI, "mongo-uri", "", "MongoDB connection string (default $MONGODB_URI)")
	root.PersistentFlags().StringVar(&e.cfg.MongoDB.Database, "database", "", "database name (default $MONGODB_DATABASE)")
	root.PersistentFlags().DurationVar(&e.cfg.MongoDB.Timeout, "timeout", 10*time.Second, "connection timeout")

	root.AddCommand(
		versionsCmd(e),
		showCmd(e),
		diffCmd(e),
		archiveCmd(e, service.Archive),
		archiveCmd(e, service.Restore),
		exportCmd(e),
	)
	return root
}

func versionsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <collection> <uid>",
		Short: "List every revision of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := e.versioned(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			revs, err := v.ListVersions(cmd.Context(), nil, args[1])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tLAST EDIT\tBY\tARCHIVED\tETAG")
			for _, r := range revs {
				md := r.Metadata
				by := md.Creator
				if n := len(md.EditRecord); n > 0 {
					by = md.EditRecord[n-1].User
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%s\n", md.VersionNumber(), md.LastEdit.Format(time.RFC3339), by, md.IsArchived(), md.Etag)
			}
			return tw.Flush()
		},
	}
}

func showCmd(e *env) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "show <collection> <uid>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var doc *service.Document
			if version > 0 {
				v, err := e.versioned(ctx, args[0])
				if err != nil {
					return err
				}
				if doc, err = v.RetrieveVersion(ctx, nil, args[1], version); err != nil {
					return err
				}
			} else {
				docs, _, err := e.docs(ctx, args[0])
				if err != nil {
					return err
				}
				if doc, err = docs.RetrieveOne(ctx, nil, args[1]); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "revision to show (default current)")
	return cmd
}

func diffCmd(e *env) *cobra.Command {
	var colour bool
	cmd := &cobra.Command{
		Use:   "diff <collection> <uid> <v1:v2>",
		Short: "Show what changed between two revisions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v1, v2, err := history.ParseRange(args[2])
			if err != nil {
				return err
			}
			v, err := e.versioned(ctx, args[0])
			if err != nil {
				return err
			}
			a, err := v.RetrieveVersion(ctx, nil, args[1], v1)
			if err != nil {
				return fmt.Errorf("version %d: %w", v1, err)
			}
			b, err := v.RetrieveVersion(ctx, nil, args[1], v2)
			if err != nil {
				return fmt.Errorf("version %d: %w", v2, err)
			}
			r, err := history.Revisions(a, b)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), r.Format(colour))
			return nil
		},
	}
	cmd.Flags().BoolVar(&colour, "colour", false, "colourise output")
	return cmd
}

func archiveCmd(e *env, action service.ArchiveAction) *cobra.Command {
	var etag string
	cmd := &cobra.Command{
		Use:   string(action) + " <collection> <uid>",
		Short: fmt.Sprintf("%s a document", action),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, _, err := e.docs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ack, err := docs.ArchiveAction(cmd.Context(), nil, action, args[1], etag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd, etag %s\n", ack.UID, action, ack.Metadata.Etag)
			return nil
		},
	}
	cmd.Flags().StringVar(&etag, "etag", "", "only act if the stored etag matches")
	return cmd
}

func exportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "export <collection> <uid>",
		Short: "Upload every revision of a document to object storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := e.versioned(ctx, args[0])
			if err != nil {
				return err
			}
			objects, err := e.objects(ctx, e.cfg)
			if err != nil {
				return err
			}
			key, err := storage.NewHistoryExporter(objects).Export(ctx, nil, args[0], v, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
