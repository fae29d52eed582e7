// Copyright 2026 SCION Association
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inspect

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/model"
)

// Printer writes human readable output.
type Printer struct {
	W       io.Writer
	Colored bool
	// Now is the reference for relative times.
	Now time.Time
}

func (p Printer) paint(attrs ...color.Attribute) *color.Color {
	if !p.Colored {
		c := color.New()
		c.DisableColor()
		return c
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

func (p Printer) state(s delta.State) string {
	switch s {
	case delta.Activated:
		return p.paint(color.FgGreen).Sprint(s)
	case delta.Failed:
		return p.paint(color.FgRed).Sprint(s)
	case delta.Removed:
		return p.paint(color.FgHiBlack).Sprint(s)
	default:
		return p.paint(color.FgYellow).Sprint(s)
	}
}

func (p Printer) since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, p.Now, "ago", "from now")
}

func (p Printer) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(p.W)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

// Deltas writes a table of deltas.
func (p Printer) Deltas(ds []*delta.Delta) {
	table := p.table("ID", "KIND", "STATE", "CONNECTION", "UPDATED")
	for _, d := range ds {
		table.Append([]string{
			d.ID,
			string(d.Kind),
			p.state(d.State),
			d.ConnectionID,
			p.since(d.UpdateTime),
		})
	}
	table.Render()
}

// Delta writes a delta and its transitions.
func (p Printer) Delta(d *delta.Delta, history []delta.Transition) {
	key := p.paint(color.FgHiCyan)
	fmt.Fprintf(p.W, "%s %s\n", key.Sprint("ID:"), d.ID)
	fmt.Fprintf(p.W, "%s %s\n", key.Sprint("Kind:"), d.Kind)
	fmt.Fprintf(p.W, "%s %s\n", key.Sprint("State:"), p.state(d.State))
	fmt.Fprintf(p.W, "%s %s\n", key.Sprint("Model:"), d.ModelID)
	fmt.Fprintf(p.W, "%s %s\n", key.Sprint("Connection:"), d.ConnectionID)
	if d.LinkedReductionID != "" {
		fmt.Fprintf(p.W, "%s %s\n", key.Sprint("Reduced by:"), d.LinkedReductionID)
	}
	if d.Reason != "" {
		fmt.Fprintf(p.W, "%s %s\n", key.Sprint("Reason:"), d.Reason)
	}
	fmt.Fprintf(p.W, "%s %s (%s)\n", key.Sprint("Inserted:"),
		d.InsertTime.UTC().Format(time.RFC3339), p.since(d.InsertTime))
	fmt.Fprintf(p.W, "%s\n", key.Sprint("History:"))
	table := p.table("TIME", "STATE", "REASON")
	for _, tr := range history {
		table.Append([]string{
			tr.Time.UTC().Format(time.RFC3339),
			p.state(tr.State),
			tr.Reason,
		})
	}
	table.Render()
}

// ActiveSet writes a table of the reservations in the set.
func (p Printer) ActiveSet(set ActiveSet) {
	fmt.Fprintf(p.W, "%s %d\n", p.paint(color.FgHiCyan).Sprint("Version:"), set.Version)
	table := p.table("URI", "STATE", "WINDOW", "ENDPOINTS", "GUARANTEED")
	for _, r := range set.Reservations {
		table.Append([]string{
			r.URI,
			p.state(r.State),
			p.window(r),
			strings.Join(endpoints(r), " "),
			bandwidth(guaranteed(r)),
		})
	}
	table.Render()
}

func (p Printer) window(r *reservation.Reservation) string {
	format := func(s int64) string {
		return time.Unix(s, 0).UTC().Format(time.RFC3339)
	}
	return format(r.Window.Start) + " - " + format(r.Window.End)
}

// Models writes a table of stored model snapshots.
func (p Printer) Models(metas []model.Meta) {
	table := p.table("ID", "CREATED", "HASH")
	for _, m := range metas {
		table.Append([]string{m.ID, p.since(m.CreationTime), m.ContentHash})
	}
	table.Render()
}

func endpoints(r *reservation.Reservation) []string {
	var eps []string
	if r.VSwitch != nil {
		for _, e := range r.VSwitch.Endpoints {
			eps = append(eps, e.Device+"/"+e.Port+"."+strconv.Itoa(e.VLAN))
		}
	}
	if r.Routing != nil {
		for _, e := range r.Routing.Endpoints {
			eps = append(eps, e.Device+"("+string(e.Family)+")")
		}
	}
	return eps
}

func guaranteed(r *reservation.Reservation) int64 {
	var bw int64
	if r.VSwitch != nil {
		for _, e := range r.VSwitch.Endpoints {
			bw += e.Service.Guaranteed()
		}
	}
	return bw
}

func bandwidth(bps int64) string {
	if bps == 0 {
		return "-"
	}
	return humanize.SIWithDigits(float64(bps), 1, "bps")
}
