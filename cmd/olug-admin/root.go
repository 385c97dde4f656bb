package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/config"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	DBPath  string
	Format  string // "json" | "text"
	Verbose bool

	cfg    *config.Config
	logger zerolog.Logger

	entities     storage.Store
	applications storage.Store
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// operator is the principal every command acts as
var operator = auth.SystemPrincipal("olug-admin")

// NewRootCommand creates the root command of the admin CLI. Commands work
// on the SQLite database directly; a running server keeps serving cached
// entities until their TTL expires.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{cfg: config.Default()}
	config.LoadFromEnv(opts.cfg)

	cmd := &cobra.Command{
		Use:           "olug-admin",
		Short:         "Administer an olug statement database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return errors.Newf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := zerolog.WarnLevel
			if opts.Verbose {
				level = zerolog.DebugLevel
			}
			opts.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()
			// import may create the database, everything else expects it
			return opts.open(cmd.Name() == "import")
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", opts.cfg.DBPath, "path to the SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewAppsCommand(opts))
	cmd.AddCommand(NewKeysCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) open(create bool) error {
	if o.entities != nil {
		return nil
	}
	if _, err := os.Stat(o.DBPath); err != nil && !create {
		return errors.Wrapf(err, "database %s", o.DBPath)
	}
	entities, apps, err := storage.NewSpaces("sqlite", map[string]interface{}{
		"db_path":         o.DBPath,
		"genid_namespace": models.JoinNamespace(o.cfg.EntitiesNamespace, "genid/"),
	})
	if err != nil {
		return err
	}
	o.entities, o.applications = entities, apps
	o.logger.Debug().Str("db", o.DBPath).Msg("Opened database")
	return nil
}

func (o *RootOptions) close() error {
	if o.entities == nil {
		return nil
	}
	appErr := o.applications.Close()
	err := o.entities.Close()
	o.entities, o.applications = nil, nil
	return errors.CombineErrors(appErr, err)
}

// space returns the store named by a command argument
func (o *RootOptions) space(name string) (storage.Store, error) {
	switch name {
	case "", storage.SpaceEntities:
		return o.entities, nil
	case storage.SpaceApplications:
		return o.applications, nil
	default:
		return nil, errors.Mark(errors.Wrapf(storage.ErrUnknownSpace, "%q", name), models.ErrInvalidRequest)
	}
}

func (o *RootOptions) tenants() (*applications.Service, *auth.Issuer, error) {
	issuer, err := auth.NewIssuer([]byte(o.cfg.GrantSecret))
	if err != nil {
		return nil, nil, err
	}
	return applications.NewService(o.applications, o.cfg.ApplicationsNamespace, issuer, o.logger), issuer, nil
}

// print writes v as indented JSON, or as text through the given function
func (o *RootOptions) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
