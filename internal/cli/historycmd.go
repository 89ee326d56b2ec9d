package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/restcall/internal/history"
)

// HistoryOptions select history entries
type HistoryOptions struct {
	Profile    string
	Operation  string
	File       string
	FailedOnly bool
	Limit      int
	Output     string // text, json, yaml
}

const historyTimeLayout = "2006-01-02 15:04:05"

func (a *App) historyStore() (*history.Manager, error) {
	if a.History == nil {
		return nil, fmt.Errorf("history is not available")
	}
	return a.History, nil
}

// ListHistory writes the recorded calls, newest first
func (a *App) ListHistory(opts HistoryOptions) error {
	store, err := a.historyStore()
	if err != nil {
		return err
	}
	entries, err := store.Load(history.Query{
		ProfileName: opts.Profile,
		Operation:   opts.Operation,
		RequestFile: opts.File,
		FailedOnly:  opts.FailedOnly,
		Limit:       opts.Limit,
	})
	if err != nil {
		return err
	}

	switch opts.Output {
	case OutputJSON, OutputYAML:
		return encodeStructured(a.Out, entries, opts.Output)
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "No history entries")
		return nil
	}
	tw := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tPROFILE\tMETHOD\tOPERATION\tSTATUS\tDURATION\tURL")
	for _, e := range entries {
		status := fmt.Sprint(e.Status)
		if e.Status == 0 {
			status = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Timestamp.Local().Format(historyTimeLayout), e.ProfileName, e.Method,
			e.Operation, status, formatDuration(e.Duration), e.URL)
	}
	return tw.Flush()
}

// ShowHistory writes one recorded call
func (a *App) ShowHistory(id int64, output string) error {
	store, err := a.historyStore()
	if err != nil {
		return err
	}
	e, err := store.Get(id)
	if err != nil {
		return err
	}

	switch output {
	case OutputJSON, OutputYAML:
		return encodeStructured(a.Out, e, output)
	}

	fmt.Fprintf(a.Out, "ID:        %d\n", e.ID)
	fmt.Fprintf(a.Out, "Time:      %s\n", e.Timestamp.Local().Format(historyTimeLayout))
	fmt.Fprintf(a.Out, "Profile:   %s\n", e.ProfileName)
	if e.RequestFile != "" {
		fmt.Fprintf(a.Out, "File:      %s\n", e.RequestFile)
	}
	fmt.Fprintf(a.Out, "Operation: %s\n", e.Operation)
	fmt.Fprintf(a.Out, "Request:   %s %s\n", e.Method, e.URL)
	fmt.Fprintf(a.Out, "Status:    %s\n", e.StatusText)
	fmt.Fprintf(a.Out, "Duration:  %s | Size: %s\n", formatDuration(e.Duration), formatSize(e.Size))
	if e.ErrorCode != "" {
		fmt.Fprintf(a.Out, "ErrorCode: %s\n", e.ErrorCode)
	}
	if e.Error != "" {
		fmt.Fprintf(a.Out, "Error:     %s\n", e.Error)
	}
	return nil
}

// HistoryStats writes per-operation call statistics of a profile
func (a *App) HistoryStats(profile, output string) error {
	store, err := a.historyStore()
	if err != nil {
		return err
	}
	stats, err := store.Stats(profile)
	if err != nil {
		return err
	}

	switch output {
	case OutputJSON, OutputYAML:
		return encodeStructured(a.Out, stats, output)
	}

	if len(stats) == 0 {
		fmt.Fprintln(a.Out, "No history entries")
		return nil
	}
	tw := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tMETHOD\tCALLS\tERRORS\tAVG\tMAX\tLAST")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Operation, s.Method, s.Calls, s.Errors,
			formatDuration(int64(s.AvgDuration)), formatDuration(s.MaxDuration),
			s.LastCalled.Local().Format(historyTimeLayout))
	}
	return tw.Flush()
}

// ClearHistory deletes the entries of a profile, or all of them when profile is empty
func (a *App) ClearHistory(profile string) error {
	store, err := a.historyStore()
	if err != nil {
		return err
	}
	n, err := store.Clear(profile)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Deleted %d history entries\n", n)
	return nil
}

// SetHistoryEnabled toggles recording for every profile without its own setting
func (a *App) SetHistoryEnabled(enabled bool) error {
	if err := a.Sessions.SetHistoryEnabled(enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(a.Out, "History %s\n", state)
	return nil
}

func encodeStructured(w io.Writer, v any, format string) error {
	if format == OutputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
