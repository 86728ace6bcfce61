package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/isometry/adimport/internal/config"
	"github.com/isometry/adimport/internal/directory"
	"github.com/isometry/adimport/internal/engine"
	"github.com/isometry/adimport/internal/input"
	"github.com/isometry/adimport/internal/logging"
	"github.com/isometry/adimport/internal/schema"
)

var rootCmd = &cobra.Command{
	Use:   "adimport",
	Short: "Import delimited files into an LDAP directory",
	Long: `adimport reconciles rows of a delimited text file against an LDAP
directory such as Active Directory. Each row is classified into an object
type, a state (Create, Put or Delete) and a multi-value operation, checked
against the directory subschema, matched to an existing object through a
configurable attribute, and applied as an add, modify or delete.

Per-row overrides come from the reserved columns !ObjectType, !State and
!Operation. Reference-typed values use (ObjectType|AttributeName|AttributeValue)
expressions that are resolved to distinguished names before submission.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ADIMPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "adimport.yml", "configuration file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (text, json)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(configCmd())
}

func runCmd() *cobra.Command {
	var file string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import the input file into the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, base *logrus.Logger, client directory.Client) error {
				if file != "" {
					cfg.Input.Path = file
				}
				if cfg.Input.Path == "" {
					return fmt.Errorf("no input file; set input.path or pass --file")
				}

				baseDN, err := resolveBaseDN(ctx, cfg, client)
				if err != nil {
					return err
				}

				fieldDelim, err := cfg.FieldDelimiter()
				if err != nil {
					return err
				}
				reader, err := input.NewFileReader(cfg.Input.Path, fieldDelim, cfg.Input.Encoding, logging.New(base, "input"))
				if err != nil {
					return err
				}
				defer reader.Close()

				registry := schema.NewRegistry(
					directory.NewSubschemaReader(client, logging.New(base, "schema")),
					cfg.Directory.ObjectClasses,
					logging.New(base, "schema"),
				)
				evaluator := directory.NewEvaluator(client, baseDN, cfg.Directory.ObjectClasses, logging.New(base, "query"))
				resolver := directory.NewResolver(client, baseDN, logging.New(base, "resolve"))

				var submitter engine.Submitter
				if dryRun {
					submitter = directory.NewDryRunSubmitter(cfg.Directory.Container, cfg.CreationSpecs(), logging.New(base, "submit"))
				} else {
					submitter = directory.NewSubmitter(client, cfg.Directory.Container, cfg.CreationSpecs(), logging.New(base, "submit"))
				}

				opts, err := cfg.EngineOptions()
				if err != nil {
					return err
				}

				pipe := engine.New(registry, evaluator, submitter, resolver, opts, logging.New(base, "engine"))
				summary, runErr := pipe.Run(ctx, reader)
				if err := printSummary(summary, dryRun); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file path (overrides input.path)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan all changes without writing to the directory")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directory connectivity and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, base *logrus.Logger, client directory.Client) error {
				if err := client.Ping(ctx); err != nil {
					return err
				}
				who, err := client.WhoAmI(ctx)
				if err != nil {
					return err
				}
				baseDN, err := resolveBaseDN(ctx, cfg, client)
				if err != nil {
					return err
				}
				info, err := client.GetServerInfo(ctx)
				if err != nil {
					return err
				}

				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"identity": who,
						"base_dn":  baseDN,
						"server":   info,
					})
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Property", "Value"})
				tw.AppendRow(table.Row{"Authenticated as", who.Identity})
				tw.AppendRow(table.Row{"Identity format", who.Type})
				tw.AppendRow(table.Row{"Base DN", baseDN})
				for _, attr := range []string{"dnsHostName", "defaultNamingContext", "subschemaSubentry", "supportedLDAPVersion"} {
					if value, ok := info[attr]; ok {
						tw.AppendRow(table.Row{attr, value})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <object-type>",
		Short: "Show the attributes bound to an object type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, base *logrus.Logger, client directory.Client) error {
				registry := schema.NewRegistry(
					directory.NewSubschemaReader(client, logging.New(base, "schema")),
					cfg.Directory.ObjectClasses,
					logging.New(base, "schema"),
				)
				sch, err := registry.Get(ctx, args[0])
				if err != nil {
					return err
				}

				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"object_type": sch.ObjectType,
						"class":       sch.Class,
						"super_chain": sch.SuperChain,
						"attributes":  sch.Attributes(),
					})
				}

				fmt.Printf("%s (class %s, %d attributes)\n", sch.ObjectType, sch.Class, sch.Len())
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Attribute", "Kind", "Syntax", "Required"})
				for _, descriptor := range sch.Attributes() {
					required := ""
					if descriptor.Required {
						required = "yes"
					}
					tw.AppendRow(table.Row{descriptor.Name, descriptor.Kind.String(), descriptor.SyntaxName(), required})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Resolve an identifier or path expression to directory objects",
		Long: `Resolve accepts a distinguished name, GUID, SID, UPN or SAM account name,
or a path expression of the form /ObjectType[Attribute='Value'], and shows
the matching directory objects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, base *logrus.Logger, client directory.Client) error {
				baseDN, err := resolveBaseDN(ctx, cfg, client)
				if err != nil {
					return err
				}

				var dns []string
				if strings.HasPrefix(args[0], "/") {
					evaluator := directory.NewEvaluator(client, baseDN, cfg.Directory.ObjectClasses, logging.New(base, "query"))
					dns, err = evaluator.QueryAll(ctx, args[0])
					if err != nil {
						return err
					}
				} else {
					resolver := directory.NewResolver(client, baseDN, logging.New(base, "resolve"))
					dn, err := resolver.ResolveToDN(ctx, args[0])
					if err != nil {
						return err
					}
					if dn != "" {
						dns = []string{dn}
					}
				}
				if len(dns) == 0 {
					return fmt.Errorf("no object found for %q", args[0])
				}

				summaries := make([]*directory.EntrySummary, 0, len(dns))
				for _, dn := range dns {
					summary, err := directory.FetchEntrySummary(ctx, client, dn)
					if err != nil {
						return err
					}
					summaries = append(summaries, summary)
				}

				if viper.GetBool("json") {
					return printJSON(summaries)
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"DN", "Name", "SAM", "Class", "GUID"})
				for _, summary := range summaries {
					class := ""
					if len(summary.Classes) > 0 {
						class = summary.Classes[len(summary.Classes)-1]
					}
					tw.AppendRow(table.Row{summary.DN, summary.Name, summary.SAMAccountName, class, summary.GUID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configShowCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default adimport.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Directory.Password != "" {
				cfg.Directory.Password = "[REDACTED]"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromFile(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	return cfg, nil
}

// withClient loads the config, connects to the directory and hands both to
// fn. The connection is closed when fn returns.
func withClient(ctx context.Context, fn func(context.Context, *config.Config, *logrus.Logger, directory.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base, err := logging.Configure(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return err
	}

	connCfg, err := cfg.ConnectionConfig()
	if err != nil {
		return err
	}

	client, err := directory.NewClient(connCfg, logging.New(base, "directory"))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, cfg, base, client)
}

// resolveBaseDN prefers the configured base DN and falls back to the
// server's default naming context.
func resolveBaseDN(ctx context.Context, cfg *config.Config, client directory.Client) (string, error) {
	if cfg.Directory.BaseDN != "" {
		return cfg.Directory.BaseDN, nil
	}
	return client.GetBaseDN(ctx)
}

// printSummary renders the run summary and the skipped and failed rows.
func printSummary(summary *engine.Summary, dryRun bool) error {
	if summary == nil {
		return nil
	}
	if viper.GetBool("json") {
		return printJSON(summary)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Run", "Created", "Modified", "Deleted", "Skipped", "Failed", "Total", "Duration"})
	tw.AppendRow(table.Row{summary.RunID, summary.Created, summary.Modified, summary.Deleted, summary.Skipped, summary.Failed, summary.Total, summary.Duration.Round(time.Millisecond)})
	tw.Render()

	var problems []engine.RowOutcome
	for _, outcome := range summary.Outcomes {
		if outcome.Status != engine.StatusApplied {
			problems = append(problems, outcome)
		}
	}
	if len(problems) > 0 {
		pt := table.NewWriter()
		pt.SetOutputMirror(os.Stdout)
		pt.AppendHeader(table.Row{"Line", "Type", "State", "Status", "Reason"})
		for _, outcome := range problems {
			pt.AppendRow(table.Row{outcome.Line, outcome.ObjectType, outcome.State, outcome.Status.String(), outcome.Reason})
		}
		pt.Render()
	}

	if dryRun {
		fmt.Println("Dry run: no changes were written.")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
