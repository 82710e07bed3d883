package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

// writeStructured writes v as JSON or YAML. It returns false for the table format.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		node, err := yamlNode(v)
		if err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// yamlNode converts v through its JSON form so YAML output uses the same
// keys and field order as the API.
func yamlNode(v any) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	return &doc, nil
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func formatRunResult(w io.Writer, format string, res *models.RunResult) error {
	if done, err := writeStructured(w, format, res); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 1, 1, ' ', 0)
	fmt.Fprintf(tw, "Status:\t%s\n", res.Status)
	if res.DryRun {
		fmt.Fprintln(tw, "Dry run:\tyes (nothing written)")
	}
	if res.ImportLogID != nil {
		fmt.Fprintf(tw, "Import log:\t%s\n", res.ImportLogID)
	}
	fmt.Fprintf(tw, "Table mapping:\t%s\n", res.TableMappingID)
	fmt.Fprintf(tw, "Read:\t%d\n", res.Read)
	fmt.Fprintf(tw, "Created:\t%d\n", res.Created)
	fmt.Fprintf(tw, "Updated:\t%d\n", res.Updated)
	fmt.Fprintf(tw, "Failed:\t%d\n", res.Failed)
	fmt.Fprintf(tw, "Batches committed:\t%d\n", res.Batches)
	fmt.Fprintf(tw, "Duration:\t%s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", res.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.FailedRows) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tFIELD\tERROR")
	for _, f := range res.FailedRows {
		field := f.Field
		if field == "" {
			field = "-"
		}
		fmt.Fprintf(tw, "%v\t%s\t%s\n", f.NaturalKey, field, oneLine(f.Error))
	}
	if res.Failed > len(res.FailedRows) {
		fmt.Fprintf(tw, "...\t\t%d more\n", res.Failed-len(res.FailedRows))
	}
	return tw.Flush()
}

func formatImportLogs(w io.Writer, format string, logs []*models.ImportLog, total int) error {
	if done, err := writeStructured(w, format, logs); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tREAD\tCREATED\tUPDATED\tFAILED\tERROR")
	for _, l := range logs {
		msg := "-"
		if l.ErrorMessage != nil {
			msg = oneLine(*l.ErrorMessage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			l.ID, l.StartedAt.Format("2006-01-02 15:04:05"), l.Status,
			l.Read, l.Created, l.Updated, l.Failed, msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if total > len(logs) {
		fmt.Fprintf(w, "(%d of %d shown)\n", len(logs), total)
	}
	return nil
}

func formatMappings(w io.Writer, format string, mappings []*models.TableMapping) error {
	if done, err := writeStructured(w, format, mappings); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE TABLE\tTARGET TABLE\tKEY\tACTIVE")
	for _, m := range mappings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\t%t\n",
			m.ID, m.SourceTable, m.TargetTable, m.SourcePKField, m.TargetPKField, m.IsActive)
	}
	return tw.Flush()
}

func formatSources(w io.Writer, format string, sources []*models.Source) error {
	if done, err := writeStructured(w, format, sources); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tACTIVE\tDESCRIPTION")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, s.ConnectionType, s.IsActive, s.Description)
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
