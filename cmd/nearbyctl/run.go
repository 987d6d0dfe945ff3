package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"geo-nearby/internal/buffer"
	"geo-nearby/internal/config"
	"geo-nearby/internal/nearby"
)

type runOptions struct {
	Source    string
	FeatureID int64
	Target    string
	Distance  int
	Unit      string
	JSON      bool
}

var (
	errUnknownSource  = errors.New("unknown source")
	errUnknownFeature = errors.New("feature not found on any surface")
	errNotExecutable  = errors.New("search is not executable with current settings")
)

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Select features of the target layer within a distance of one trigger feature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNearby(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Trigger data source ID")
	cmd.Flags().Int64VarP(&opts.FeatureID, "feature-id", "f", 0, "Trigger feature identifier")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "Target data source ID (overrides configuration)")
	cmd.Flags().IntVarP(&opts.Distance, "distance", "d", 0, "Buffer distance (overrides configuration)")
	cmd.Flags().StringVarP(&opts.Unit, "unit", "u", "", "Distance unit: meter, kilometer, survey foot, survey yard, survey mile")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")
	cmd.MarkFlagRequired("source")     //nolint:errcheck
	cmd.MarkFlagRequired("feature-id") //nolint:errcheck

	return cmd
}

// overrides 命令行参数叠加到当前配置；未指定的字段保持原值
func (o *runOptions) overrides(cmd *cobra.Command, current config.Settings) (config.Settings, error) {
	next := current
	if cmd.Flags().Changed("target") {
		next.TargetID = o.Target
	}
	if cmd.Flags().Changed("distance") {
		next.Distance = o.Distance
	}
	if cmd.Flags().Changed("unit") {
		u, err := buffer.ParseUnit(o.Unit)
		if err != nil {
			return current, err
		}
		next.Unit = u
	}
	return next, nil
}

func runNearby(cmd *cobra.Command, root *rootFlags, opts *runOptions) error {
	ctx := cmd.Context()
	a, closeDeps, err := root.build(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()

	next, err := opts.overrides(cmd, a.Settings.Snapshot())
	if err != nil {
		return err
	}
	if _, err := a.Settings.Configure(ctx, config.StaticDialog{Settings: next}); err != nil {
		return err
	}

	trigger, ok := a.Catalog.Get(opts.Source)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownSource, opts.Source)
	}
	feature, ok := a.FindFeature(opts.Source, opts.FeatureID)
	if !ok {
		return fmt.Errorf("%w: %s/%d", errUnknownFeature, opts.Source, opts.FeatureID)
	}
	if !a.Orchestrator.CanExecute(trigger, feature) {
		return errNotExecutable
	}
	if _, err := a.Orchestrator.Execute(context.WithoutCancel(ctx), trigger, feature); err != nil {
		return err
	}
	a.Orchestrator.Wait()

	rep, ok := a.Orchestrator.Last()
	if !ok {
		return errNotExecutable
	}
	if err := printReport(cmd, a.Settings.Snapshot(), rep, opts.JSON); err != nil {
		return err
	}
	if rep.Result == nearby.ResultBufferFailed {
		return rep.Err
	}
	return nil
}

type reportOutput struct {
	Run      string          `json:"run"`
	Settings config.Settings `json:"settings"`
	Result   string          `json:"result"`
	Matched  int             `json:"matched"`
	Selected int             `json:"selected"`
	Skipped  int             `json:"skipped"`
	Ms       int64           `json:"ms"`
	Error    string          `json:"error,omitempty"`
}

func printReport(cmd *cobra.Command, s config.Settings, rep nearby.Report, asJSON bool) error {
	out := reportOutput{
		Run:      rep.Run.ID,
		Settings: s,
		Result:   rep.Result,
		Matched:  rep.Matched,
		Selected: rep.Selected,
		Skipped:  rep.Skipped,
		Ms:       rep.Duration.Milliseconds(),
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "target:   %s (%d %s)\n", s.TargetID, s.Distance, s.Unit)
	fmt.Fprintf(w, "result:   %s\n", out.Result)
	fmt.Fprintf(w, "matched:  %d\n", out.Matched)
	fmt.Fprintf(w, "selected: %d\n", out.Selected)
	if out.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", out.Error)
	}
	return nil
}
