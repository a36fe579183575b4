package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/backfill"
	"github.com/sells-group/coalition-geo/internal/config"
	"github.com/sells-group/coalition-geo/internal/geocoding"
	"github.com/sells-group/coalition-geo/internal/report"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode stakeholders and assign districts",
}

var geocodeBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Geocode pending stakeholders in bulk",
	Long: "Geocodes every pending stakeholder (optionally failed and already geocoded ones too), " +
		"assigns districts and prints one line per stakeholder followed by a summary. " +
		"Interrupting stops between stakeholders; re-running resumes where it left off.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		opts, err := backfillOptions(cmd.Flags(), cfg.Backfill)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		journal, err := openJournal(ctx, cfg.Runs, env.Pool)
		if err != nil {
			return err
		}
		if journal != nil {
			defer journal.Close() //nolint:errcheck
		}

		opts.RunID = uuid.New()
		kind := backfill.KindBackfill
		if opts.DryRun {
			kind = backfill.KindDryRun
		}
		sum, err := journalRun(ctx, journal, opts.RunID, kind, opts, func() (*backfill.Summary, error) {
			return env.Runner(cmd.OutOrStdout()).Run(ctx, opts)
		})
		printSummary(cmd, sum)
		return err
	},
}

// backfillOptions reads flags, falling back to the backfill config section
// for limit, delay and concurrency when they are not set.
func backfillOptions(f *pflag.FlagSet, defaults config.BackfillConfig) (backfill.Options, error) {
	opts := backfill.Options{
		Limit:       defaults.Limit,
		Delay:       defaults.Delay(),
		Concurrency: defaults.Concurrency,
	}
	opts.State, _ = f.GetString("state")
	opts.RetryFailed, _ = f.GetBool("retry-failed")
	opts.Force, _ = f.GetBool("force")
	opts.DryRun, _ = f.GetBool("dry-run")
	opts.ClearOnFailure, _ = f.GetBool("clear-on-failure")
	if f.Changed("limit") {
		opts.Limit, _ = f.GetInt("limit")
	}
	if d := f.Lookup("delay"); d != nil && d.Changed {
		opts.Delay = time.Duration(*d.Value.(*delayValue))
	}
	if f.Changed("concurrency") {
		opts.Concurrency, _ = f.GetInt("concurrency")
	}

	if opts.State != "" {
		st, err := address.ValidateState(opts.State)
		if err != nil {
			return opts, eris.Wrapf(err, "--state %q", opts.State)
		}
		opts.State = st
	}
	if opts.Limit < 0 || opts.Delay < 0 || opts.Concurrency < 1 {
		return opts, eris.New("limit and delay must not be negative and concurrency must be at least 1")
	}
	return opts, nil
}

func printSummary(cmd *cobra.Command, sum *backfill.Summary) {
	if sum == nil {
		return
	}
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		_ = writeJSON(cmd.OutOrStdout(), sum)
		return
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), sum.String())
}

var geocodeOneCmd = &cobra.Command{
	Use:   "one <stakeholder-id>",
	Short: "Geocode a single stakeholder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid stakeholder id %q", args[0])
		}
		f := cmd.Flags()
		var opts geocoding.Options
		opts.Force, _ = f.GetBool("force")
		opts.Retry, _ = f.GetBool("retry")
		opts.ClearOnFailure, _ = f.GetBool("clear-on-failure")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Service.GeocodeByID(ctx, id, opts)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), out, formatFlag(cmd))
	},
}

func printOutcome(w io.Writer, out *geocoding.Outcome, format string) error {
	if format == "json" {
		return writeJSON(w, out)
	}
	_, _ = fmt.Fprintln(w, backfill.FormatOutcome(out))
	for _, a := range out.Attempts {
		line := fmt.Sprintf("  %s: %s (%d calls)", a.Provider, a.Status, a.Calls)
		if a.Error != "" {
			line += " " + a.Error
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

var geocodeValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate and normalize an address without geocoding it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		street, _ := f.GetString("street")
		city, _ := f.GetString("city")
		state, _ := f.GetString("state")
		zip, _ := f.GetString("zip")
		return runValidate(cmd.OutOrStdout(), street, city, state, zip, formatFlag(cmd))
	},
}

type validateOutput struct {
	Valid   bool             `json:"valid" yaml:"valid"`
	Address *address.Address `json:"address,omitempty" yaml:"address,omitempty"`
	Errors  []validateError  `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type validateError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

// runValidate prints the validation result and returns the validation
// error, if any, so the command exits non-zero.
func runValidate(w io.Writer, street, city, state, zip, format string) error {
	addr, verr := address.ValidateComplete(street, city, state, zip)
	out := validateOutput{Valid: verr == nil, Address: addr}
	for _, fe := range address.FieldErrors(verr) {
		out.Errors = append(out.Errors, validateError{Field: fe.Field, Message: fe.Message()})
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "validate: encode yaml")
		}
		if err := enc.Close(); err != nil {
			return eris.Wrap(err, "validate: encode yaml")
		}
	case "json":
		if err := writeJSON(w, out); err != nil {
			return err
		}
	default:
		if addr != nil {
			_, _ = fmt.Fprintln(w, addr.OneLine())
		}
		for _, e := range out.Errors {
			_, _ = fmt.Fprintf(w, "%s: %s\n", e.Field, e.Message)
		}
	}
	return verr
}

var geocodeReassignCmd = &cobra.Command{
	Use:   "reassign",
	Short: "Recompute districts for geocoded stakeholders",
	Long:  "Recomputes district references from stored locations, e.g. after importing new boundaries. No geocoding provider is called.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		journal, err := openJournal(ctx, cfg.Runs, env.Pool)
		if err != nil {
			return err
		}
		if journal != nil {
			defer journal.Close() //nolint:errcheck
		}

		opts := backfill.ReassignOptions{RunID: uuid.New(), State: state, Limit: limit}
		sum, err := journalRun(ctx, journal, opts.RunID, backfill.KindReassign, opts, func() (*backfill.Summary, error) {
			return env.Runner(cmd.OutOrStdout()).Reassign(ctx, opts)
		})
		printSummary(cmd, sum)
		return err
	},
}

var geocodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count stakeholders per geocoding status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		state, _ := cmd.Flags().GetString("state")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.Stakeholders.CountByStatus(ctx, state)
		if err != nil {
			return eris.Wrap(err, "geocode status")
		}
		if formatFlag(cmd) == "json" {
			err = writeJSON(cmd.OutOrStdout(), counts)
		} else {
			err = report.WriteStatusTable(cmd.OutOrStdout(), counts)
		}
		if err != nil {
			return err
		}

		if check, _ := cmd.Flags().GetBool("check"); check {
			mc := cfg.Monitoring
			if state != "" {
				mc.State = state
			}
			for _, a := range env.Checker(mc).Check(ctx) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ALERT [%s] %s\n", a.Severity, a.Message)
			}
		}
		return nil
	},
}

func formatFlag(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("format")
	return f
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// delayValue is a pflag.Value taking either bare seconds or a Go duration.
type delayValue time.Duration

func (d *delayValue) String() string { return time.Duration(*d).String() }

func (d *delayValue) Set(s string) error {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return eris.Errorf("invalid delay %q", s)
		}
		*d = delayValue(time.Duration(secs * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return eris.Errorf("invalid delay %q: want seconds or a duration such as 500ms", s)
	}
	*d = delayValue(v)
	return nil
}

func (d *delayValue) Type() string { return "seconds" }

func addBackfillFlags(bf *pflag.FlagSet) {
	bf.String("state", "", "only stakeholders in this two-letter state")
	bf.Bool("retry-failed", false, "also retry stakeholders previously marked failed")
	bf.Bool("force", false, "re-geocode every stakeholder, including geocoded ones")
	bf.Int("limit", 0, "maximum stakeholders to process (default from config, 0 = all)")
	delay := delayValue(200 * time.Millisecond)
	bf.Var(&delay, "delay", "minimum pause between stakeholders: seconds (1.5) or a duration (200ms)")
	bf.Int("concurrency", 1, "stakeholders processed in parallel")
	bf.Bool("dry-run", false, "list candidates without calling providers or writing")
	bf.Bool("clear-on-failure", false, "clear a prior location when re-geocoding fails")
	bf.String("format", "text", "summary format: text or json")
}

func init() {
	addBackfillFlags(geocodeBackfillCmd.Flags())

	of := geocodeOneCmd.Flags()
	of.Bool("force", false, "re-geocode even if a location is stored")
	of.Bool("retry", false, "retry a stakeholder previously marked failed")
	of.Bool("clear-on-failure", false, "clear a prior location when re-geocoding fails")
	of.String("format", "text", "output format: text or json")

	vf := geocodeValidateCmd.Flags()
	vf.String("street", "", "street line")
	vf.String("city", "", "city")
	vf.String("state", "", "two-letter state code")
	vf.String("zip", "", "ZIP or ZIP+4")
	vf.String("format", "text", "output format: text, json or yaml")

	rf := geocodeReassignCmd.Flags()
	rf.String("state", "", "only stakeholders in this two-letter state")
	rf.Int("limit", 0, "maximum stakeholders to reassign (0 = all)")
	rf.String("format", "text", "summary format: text or json")

	sf := geocodeStatusCmd.Flags()
	sf.String("state", "", "only stakeholders in this two-letter state")
	sf.String("format", "text", "output format: text or json")
	sf.Bool("check", false, "evaluate alert thresholds and send any alerts to the monitoring webhook")

	geocodeCmd.AddCommand(geocodeBackfillCmd, geocodeOneCmd, geocodeValidateCmd, geocodeReassignCmd, geocodeStatusCmd)
	rootCmd.AddCommand(geocodeCmd)
}
