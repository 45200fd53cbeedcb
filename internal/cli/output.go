package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/capturekit/server/internal/models"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

// JSON pretty prints v.
func (f *Formatter) JSON(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *Formatter) VideoTable(list []models.VideoSummary) {
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROJECT\tFEATURE\tSCENARIO\tCREATED")
	for _, v := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, dash(v.Status), dash(v.Project), dash(v.Feature), dash(v.Scenario), v.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func (f *Formatter) UploadTable(list []models.UploadStatus) {
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPROGRESS\tKEY\tERROR")
	for _, u := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.State, progress(u), dash(u.Key), dash(u.ErrorMessage))
	}
	_ = tw.Flush()
}

func progress(u models.UploadStatus) string {
	if u.Total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d%%", u.Transferred*100/u.Total)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
