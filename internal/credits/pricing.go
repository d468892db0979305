package credits

import "github.com/kalambet/karmgyan/internal/reports"

// Fixed prices, in credits.
const (
	PriceQuestion            = 1
	PriceReportBasic         = 5
	PriceReportComprehensive = 10
	PriceReportYearly        = 15
)

// PriceTable is the public price list.
type PriceTable struct {
	Question            int `json:"question"`
	ReportBasic         int `json:"report_basic"`
	ReportComprehensive int `json:"report_comprehensive"`
	ReportYearly        int `json:"report_yearly"`
}

// Prices returns the price list.
func Prices() PriceTable {
	return PriceTable{
		Question:            PriceQuestion,
		ReportBasic:         PriceReportBasic,
		ReportComprehensive: PriceReportComprehensive,
		ReportYearly:        PriceReportYearly,
	}
}

// ReportCost returns the price of a report. Unknown types are billed as
// comprehensive reports.
func ReportCost(reportType string) int {
	switch reports.Type(reportType) {
	case reports.TypeCareer, reports.TypeMarriage:
		return PriceReportBasic
	case reports.TypeYearly:
		return PriceReportYearly
	default:
		return PriceReportComprehensive
	}
}

// Package is a purchasable bundle of credits.
type Package struct {
	ID       string  `json:"id"`
	Credits  int     `json:"credits"`
	PriceINR int     `json:"price_inr"`
	PriceUSD float64 `json:"price_usd"`
	Savings  *string `json:"savings"`
	Popular  bool    `json:"popular"`
}

// UsageCost describes what one billable operation costs.
type UsageCost struct {
	Credits     int    `json:"credits"`
	Description string `json:"description"`
}

// Packages returns the credit package catalog.
func Packages() []Package {
	twenty, thirty := "20%", "30%"
	return []Package{
		{ID: "pack_10", Credits: 10, PriceINR: 99, PriceUSD: 1.50},
		{ID: "pack_50", Credits: 50, PriceINR: 399, PriceUSD: 6.00, Savings: &twenty, Popular: true},
		{ID: "pack_100", Credits: 100, PriceINR: 699, PriceUSD: 10.00, Savings: &thirty},
	}
}

// UsageCosts returns the price list with human descriptions, keyed the same
// way as PriceTable.
func UsageCosts() map[string]UsageCost {
	return map[string]UsageCost{
		"question":             {Credits: PriceQuestion, Description: "Ask any question about your chart"},
		"report_basic":         {Credits: PriceReportBasic, Description: "Career or Marriage focused report"},
		"report_comprehensive": {Credits: PriceReportComprehensive, Description: "Complete life reading"},
		"report_yearly":        {Credits: PriceReportYearly, Description: "12-month detailed forecast"},
	}
}
