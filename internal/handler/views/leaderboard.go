// Package views renders the few server-side HTML pages. Everything else is
// served as JSON.
package views

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/tipper/internal/i18n"
)

// LeaderboardRow is one line of the leaderboard table.
type LeaderboardRow struct {
	Rank   int
	Name   string
	Points int
}

// LeaderboardData is everything the leaderboard page shows.
type LeaderboardData struct {
	Subject     string
	Subjects    []string
	Rows        []LeaderboardRow
	GeneratedAt string
	// Self marks the row of the logged-in student, if any.
	Self string
}

// LeaderboardPage renders the standings as a standalone HTML page.
func LeaderboardPage(d LeaderboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := appI18n.T(ctx, "Leaderboard")
		if d.Subject != "" {
			title += " · " + d.Subject
		}
		p := &printer{w: w}
		p.printf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s | %s</title></head><body>\n",
			templ.EscapeString(title), templ.EscapeString(appI18n.T(ctx, "AppTitle")))
		p.printf("<h1>%s</h1>\n", templ.EscapeString(title))
		subjectNav(ctx, p, d)
		if len(d.Rows) == 0 {
			p.printf("<p>%s</p>\n", templ.EscapeString(appI18n.T(ctx, "NoStudents")))
		} else {
			p.printf("<table>\n<thead><tr><th>%s</th><th>%s</th><th>%s</th></tr></thead>\n<tbody>\n",
				templ.EscapeString(appI18n.T(ctx, "Rank")),
				templ.EscapeString(appI18n.T(ctx, "Student")),
				templ.EscapeString(appI18n.T(ctx, "Points")))
			for _, r := range d.Rows {
				class := ""
				if d.Self != "" && r.Name == d.Self {
					class = ` class="self"`
				}
				p.printf("<tr%s><td>%d</td><td>%s</td><td>%s</td></tr>\n",
					class, r.Rank, templ.EscapeString(r.Name), templ.EscapeString(appI18n.Tp(ctx, "PointsN", r.Points)))
			}
			p.printf("</tbody>\n</table>\n")
		}
		if d.GeneratedAt != "" {
			p.printf("<footer>%s</footer>\n",
				templ.EscapeString(appI18n.Td(ctx, "GeneratedAt", map[string]any{"Time": d.GeneratedAt})))
		}
		p.printf("</body></html>\n")
		return p.err
	})
}

func subjectNav(ctx context.Context, p *printer, d LeaderboardData) {
	if len(d.Subjects) == 0 {
		return
	}
	p.printf("<nav>")
	p.link("?", appI18n.T(ctx, "AllSubjects"), d.Subject == "")
	for _, s := range d.Subjects {
		p.link("?subject="+templ.EscapeString(url.QueryEscape(s)), s, d.Subject == s)
	}
	p.printf("</nav>\n")
}

// printer keeps the first write error so rendering reads top to bottom.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) link(href, label string, current bool) {
	if current {
		p.printf(` <strong>%s</strong>`, templ.EscapeString(label))
		return
	}
	p.printf(` <a href="%s">%s</a>`, href, templ.EscapeString(label))
}
