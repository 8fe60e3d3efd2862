package main

import (
	"github.com/pterm/pterm"
)

// barProgress renders cumulative records as a pterm progress bar. A new
// bar is started for every listing, so windows split into chunks show one
// bar each.
type barProgress struct {
	bar *pterm.ProgressbarPrinter
}

func newBarProgress() *barProgress {
	return &barProgress{}
}

func (p *barProgress) Start(totalResults int) {
	p.Finish()
	if totalResults <= 0 {
		pterm.Info.Println("No records to fetch")
		return
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(totalResults).
		WithTitle("Fetching CVEs").
		Start()
	if err != nil {
		return
	}
	p.bar = bar
}

func (p *barProgress) Add(records int) {
	if p.bar == nil || records <= 0 {
		return
	}
	// The listing may grow during a run; clamp to the bar total.
	if remaining := p.bar.Total - p.bar.Current; records > remaining {
		records = remaining
	}
	if records > 0 {
		p.bar.Add(records)
	}
}

func (p *barProgress) Finish() {
	if p.bar == nil {
		return
	}
	p.bar.Stop()
	p.bar = nil
}
