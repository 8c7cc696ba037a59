// Package report renders area summaries as JSON, YAML, an aligned text table
// or an Excel workbook.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/apportion/internal/model"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts json, yaml (or yml), text (or table) and xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "text", "table":
		return FormatText, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("report: unknown format %q (want json, yaml, text or xlsx)", s)
}

// FromBatch flattens a batch result into summaries ordered by area id.
func FromBatch(m map[string]*model.AreaSummary) []model.AreaSummary {
	out := make([]model.AreaSummary, 0, len(m))
	for _, s := range m {
		if s != nil {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AreaID < out[j].AreaID })
	return out
}

// Write renders summaries to w in the given format.
func Write(w io.Writer, format Format, summaries []model.AreaSummary) error {
	if summaries == nil {
		summaries = []model.AreaSummary{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(summaries), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summaries); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: encode yaml")
	case FormatText:
		return writeText(w, summaries)
	case FormatXLSX:
		return writeXLSX(w, summaries)
	}
	return eris.Errorf("report: unknown format %q", format)
}

var columns = []string{
	"area", "blocks_all", "blocks_gt50",
	"pop_all", "pop_gt50", "pop_wtd",
	"hu_all", "hu_gt50", "hu_wtd",
	"area_sq_mi", "issues",
}

func issueCount(s model.AreaSummary) int {
	n := len(s.Errors) + len(s.Warnings)
	if s.Update != nil && !s.Update.Success {
		n++
	}
	return n
}

func writeText(w io.Writer, summaries []model.AreaSummary) error {
	p := message.NewPrinter(language.English)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t"))+"\t")
	for _, s := range summaries {
		p.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.4f\t%d\t\n",
			s.AreaID, s.BlocksAll, s.BlocksGT50,
			s.PopAll, s.PopGT50, s.PopWtd,
			s.HUAll, s.HUGT50, s.HUWtd,
			s.AreaSqMi, issueCount(s))
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: write table")
	}

	for _, s := range summaries {
		for _, e := range s.Errors {
			fmt.Fprintf(w, "%s: error: %s\n", s.AreaID, e)
		}
		for _, msg := range s.Warnings {
			fmt.Fprintf(w, "%s: warning: %s\n", s.AreaID, msg)
		}
		if s.Update != nil && !s.Update.Success {
			fmt.Fprintf(w, "%s: update failed: %s\n", s.AreaID, s.Update.Error)
		}
	}
	return nil
}

func writeXLSX(w io.Writer, summaries []model.AreaSummary) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Summaries")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}

	for _, s := range summaries {
		row := sheet.AddRow()
		row.AddCell().SetString(s.AreaID)
		row.AddCell().SetInt(s.BlocksAll)
		row.AddCell().SetInt(s.BlocksGT50)
		for _, v := range []int64{s.PopAll, s.PopGT50, s.PopWtd, s.HUAll, s.HUGT50, s.HUWtd} {
			row.AddCell().SetInt64(v)
		}
		row.AddCell().SetFloat(s.AreaSqMi)
		row.AddCell().SetInt(issueCount(s))
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}
