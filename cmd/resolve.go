package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apereo/persondir/cmd/util"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/persondir"
)

const (
	subjectFlag   = "subject"
	attrFlag      = "attr"
	queryTypeFlag = "query-type"
	logFormatFlag = "log-format"
	logLevelFlag  = "log-level"
)

// NewResolveCommand returns the command that runs one resolution against
// the configured sources and prints the result as JSON.
func NewResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a person's attributes from the configured sources",
		Long: `The resolve command runs one resolution against the sources listed in the
configuration file and prints the merged result as JSON. Query either a
single subject by name, or by attribute comparisons given as name=value
pairs (a trailing or embedded * in the value is a wildcard).`,
		RunE: runResolve,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(subjectFlag, flags.Lookup(subjectFlag))
			util.MustBindPFlag(attrFlag, flags.Lookup(attrFlag))
			util.MustBindPFlag(queryTypeFlag, flags.Lookup(queryTypeFlag))
			util.MustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))
			util.MustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
		},
	}

	flags := cmd.Flags()

	flags.String(subjectFlag, "", "the subject name to resolve")
	flags.StringSlice(attrFlag, nil, "an attribute comparison as name=value (repeatable)")
	flags.String(queryTypeFlag, "AND", "how multiple attribute comparisons combine: AND or OR")
	flags.String(logFormatFlag, "text", "the log format to output logs in")
	flags.String(logLevelFlag, "none", "the log level to use")

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runResolve(command *cobra.Command, _ []string) error {
	log, err := logger.NewLogger(viper.GetString(logFormatFlag), viper.GetString(logLevelFlag))
	if err != nil {
		return err
	}

	composite, closeSources, err := BuildComposite(log)
	if err != nil {
		return err
	}
	defer closeSources()

	ctx := command.Context()

	if subject := viper.GetString(subjectFlag); subject != "" {
		person, err := composite.ResolveSubject(ctx, subject)
		if err != nil && !errors.Is(err, persondir.ErrNotFound) {
			if person == nil {
				return err
			}
			fmt.Fprintf(command.ErrOrStderr(), "warning: %v\n", err)
		}
		if person == nil {
			return fmt.Errorf("subject %q not found", subject)
		}
		return printJSON(command, person)
	}

	query, err := parseQuery(viper.GetStringSlice(attrFlag), viper.GetString(queryTypeFlag))
	if err != nil {
		return err
	}

	people, err := composite.Resolve(ctx, query)
	if err != nil {
		if len(people) == 0 {
			return err
		}
		fmt.Fprintf(command.ErrOrStderr(), "warning: %v\n", err)
	}
	return printJSON(command, people)
}

// parseQuery turns repeated name=value pairs into a query. Repeating a name
// appends to its value list.
func parseQuery(pairs []string, queryType string) (persondir.Query, error) {
	query := persondir.Query{Attributes: map[string][]any{}}

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return query, fmt.Errorf("attribute %q is not in name=value form", pair)
		}
		query.Attributes[name] = append(query.Attributes[name], value)
	}

	parsed, err := persondir.ParseQueryType(queryType)
	if err != nil {
		return query, err
	}
	query.Type = parsed

	return query, nil
}

func printJSON(command *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(command.OutOrStdout(), string(out))
	return nil
}
