package router

import (
	"github.com/erp/stockvaluation/internal/interfaces/http/handler"
)

// ValuationRoutes builds the /valuation group. Admin endpoints live in a
// subgroup so deployments can put extra middleware in front of them.
func ValuationRoutes(v *handler.ValuationHandler, admin *handler.AdminHandler) *DomainGroup {
	g := NewDomainGroup("valuation", "/valuation")

	g.POST("/movements", v.PostMovement)
	g.GET("/queue", v.GetQueue)
	g.GET("/cost", v.CalculateCost)
	g.POST("/cost/batch", v.BatchCalculateCost)
	g.GET("/availability", v.CheckAvailability)
	g.GET("/transfers/suggest", v.SuggestTransfer)
	g.GET("/balances", v.WarehouseBalances)
	g.POST("/landed-costs", v.AllocateLandedCost)
	g.GET("/layers/:id/landed-costs", v.ListLandedCosts)

	if admin != nil {
		a := g.Group("admin", "/admin")
		a.POST("/backfill", admin.Backfill)
		a.GET("/diagnostics", admin.Diagnose)
		a.POST("/recalculate", admin.Recalculate)
		a.POST("/repair", admin.Repair)
		a.GET("/events", admin.RecentEvents)
		a.GET("/integrity", admin.IntegrityStatus)
		a.POST("/integrity/run", admin.RunIntegrityScan)
	}
	return g
}

// SystemRoutes builds the /system group
func SystemRoutes(s *handler.SystemHandler) *DomainGroup {
	g := NewDomainGroup("system", "/system")
	g.GET("/info", s.GetSystemInfo)
	return g
}
