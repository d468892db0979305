package credits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportCost(t *testing.T) {
	cases := map[string]int{
		"career":        5,
		"marriage":      5,
		"comprehensive": 10,
		"yearly":        15,
		"mystery":       10,
		"":              10,
	}
	for reportType, want := range cases {
		require.Equal(t, want, ReportCost(reportType), "report type %q", reportType)
	}
}

func TestPrices(t *testing.T) {
	p := Prices()
	require.Equal(t, PriceTable{Question: 1, ReportBasic: 5, ReportComprehensive: 10, ReportYearly: 15}, p)

	costs := UsageCosts()
	require.Equal(t, p.Question, costs["question"].Credits)
	require.Equal(t, p.ReportYearly, costs["report_yearly"].Credits)
}
