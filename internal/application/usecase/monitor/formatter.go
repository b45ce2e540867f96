package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"perparb/internal/domain/model"
	dsvc "perparb/internal/domain/service"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct {
	TopN      int
	Threshold float64 // spread pct highlighted green
	Color     bool
}

func NewFormatter(topN int, threshold float64) *Formatter {
	return &Formatter{TopN: topN, Threshold: threshold, Color: true}
}

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

// Live 一行状态：机会数量 + 当前最大价差
func (f *Formatter) Live(res *model.Result, st *State) string {
	var sb strings.Builder
	sb.WriteString("\r")
	sb.WriteString(f.paint("[PERPARB] ", ansiDim))
	if res == nil || len(res.Opportunities) == 0 {
		sb.WriteString("no opportunities")
		return f.eol(&sb)
	}
	top := res.Opportunities[0]
	fmt.Fprintf(&sb, "%d bases  top %s ", len(res.Opportunities), top.Base)
	sb.WriteString(f.spread(top, st))
	fmt.Fprintf(&sb, " %s→%s", top.LongExchange, top.ShortExchange)
	sb.WriteString(f.paint("  @"+res.UpdatedAt.Format(time.TimeOnly), ansiDim))
	return f.eol(&sb)
}

func (f *Formatter) eol(sb *strings.Builder) string {
	if f.Color {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

// Snapshot renders the top-N opportunities, one per line.
func (f *Formatter) Snapshot(res *model.Result, st *State) []string {
	if res == nil {
		return []string{"no data yet"}
	}
	n := len(res.Opportunities)
	if f.TopN > 0 && n > f.TopN {
		n = f.TopN
	}
	lines := make([]string, 0, n+1)
	lines = append(lines, fmt.Sprintf("cycle %s  %d opportunities", shortID(res.CycleID), len(res.Opportunities)))
	for i, o := range res.Opportunities[:n] {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%2d. %-8s ", i+1, o.Base)
		sb.WriteString(f.spread(o, st))
		fmt.Fprintf(&sb, "  long %s %s  short %s %s",
			o.LongExchange, price(o, o.LongExchange), o.ShortExchange, price(o, o.ShortExchange))
		if o.LongFundingExchange != "" {
			fmt.Fprintf(&sb, "  funding %s/%s %+.4f%%",
				o.LongFundingExchange, o.ShortFundingExchange, o.FundingSpread*100)
		}
		if others := otherVenues(o); others != "" {
			sb.WriteString(f.paint("  ["+others+"]", ansiDim))
		}
		lines = append(lines, sb.String())
	}
	return lines
}

func (f *Formatter) spread(o model.Opportunity, st *State) string {
	s := fmt.Sprintf("%.3f%%", o.PriceSpreadPct)
	col := ansiYellow
	if dsvc.Band(o.PriceSpreadPct, f.Threshold) > 0 {
		col = ansiGreen
	}
	if st != nil {
		switch st.Dir(o.Base) {
		case DirUp:
			s += "↑"
		case DirDown:
			s += "↓"
			if col != ansiGreen {
				col = ansiRed
			}
		}
	}
	return f.paint(s, col)
}

func price(o model.Opportunity, ex string) string {
	q, ok := o.Exchanges[ex]
	if !ok || !q.HasPrice {
		return "--"
	}
	return fmt.Sprintf("%g", q.Price)
}

func otherVenues(o model.Opportunity) string {
	var out []string
	for ex := range o.Exchanges {
		if ex != o.LongExchange && ex != o.ShortExchange {
			out = append(out, ex)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
