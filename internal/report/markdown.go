package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders the report as a markdown document
func Markdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Settlement report %s to %s\n\n", r.From.Format(dateFormat), r.To.Format(dateFormat))

	if len(r.Users) == 0 {
		b.WriteString("No accounts to report.\n")
		return b.String()
	}

	b.WriteString("| User | Principal | Current Value | Window Profit | Cumulative | Share |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|\n")
	for _, u := range r.Users {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			u.User.Username,
			FormatCNY(u.User.Principal),
			FormatCNY(u.CurrentValue),
			FormatCNY(u.TotalDaily()),
			FormatCNY(u.Cumulative()),
			FormatCNY(u.TotalShare()),
		)
	}

	for _, u := range r.Users {
		fmt.Fprintf(&b, "\n## %s\n\n", u.User.Username)
		b.WriteString(agreementLine(u))
		if len(u.Records) == 0 {
			b.WriteString("\nNo settled days in this window.\n")
			continue
		}
		b.WriteString("\n| Date | Daily | Cumulative | Share |\n|---|---:|---:|---:|\n")
		for _, rec := range u.Records {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				rec.Date.Format(dateFormat),
				FormatCNY(rec.DailyProfit),
				FormatCNY(rec.CumulativeProfit),
				FormatCNY(rec.ShareAmount),
			)
		}
	}
	return b.String()
}

func agreementLine(u UserReport) string {
	a := u.Agreement
	if a == nil {
		return "No profit-sharing agreement.\n"
	}
	line := fmt.Sprintf("Profit share %s%%", a.ProfitShareRatio.Shift(2).String())
	if a.IsCapitalProtected {
		line += fmt.Sprintf(", capital protected at %s%% of principal", a.CapitalProtectionRatio.Shift(2).String())
	}
	return line + ".\n"
}

// Render formats markdown for a terminal. style is a glamour standard style
// such as "dark", "light" or "notty".
func Render(md, style string, width int) (string, error) {
	if style == "" {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
