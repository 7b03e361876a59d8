package dashhttp

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"

	"tradefloor/internal/logger"
)

const chartHistoryPoints = 500

// handlePortfolioChart renders the per-account portfolio value history as a
// single HTML page, one line chart per account.
func (s *Server) handlePortfolioChart(c *gin.Context) {
	ctx := c.Request.Context()
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		abortFault(c, err)
		return
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = "Portfolio Value"

	rendered := 0
	for _, acct := range accounts {
		points, err := s.ledger.SnapshotHistory(ctx, acct.Name, chartHistoryPoints)
		if err != nil {
			logger.Warnf("dashboard: history for %s: %v", acct.Name, err)
			continue
		}
		if len(points) == 0 {
			continue
		}
		title := acct.DisplayName
		if title == "" {
			title = acct.Name
		}

		xAxis := make([]string, len(points))
		values := make([]opts.LineData, len(points))
		cash := make([]opts.LineData, len(points))
		for i, p := range points {
			xAxis[i] = p.At.UTC().Format(time.RFC3339)
			values[i] = opts.LineData{Value: p.Value}
			cash[i] = opts.LineData{Value: p.Balance}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme:  echartstypes.ThemeWesteros,
				Width:  "1200px",
				Height: "420px",
			}),
			charts.WithTitleOpts(opts.Title{Title: title, Left: "left"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
			charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		)
		line.SetXAxis(xAxis)
		line.AddSeries("Total Value", values,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}))
		line.AddSeries("Cash", cash,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		page.AddCharts(line)
		rendered++
	}

	if rendered == 0 {
		c.Data(http.StatusOK, "text/html; charset=utf-8",
			[]byte("<html><body><p>No portfolio history yet.</p></body></html>"))
		return
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(c.Writer); err != nil {
		logger.Warnf("dashboard: render portfolio chart: %v", err)
	}
}
