// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: Base persistence models (BaseModel, CompanyModel)
//   - valuation.go: valuation layers and landed cost allocations
//   - stock.go: movements, move lines, locations, warehouses and product costs
//
// The remaining_qty and remaining_value columns of valuation_layers are
// nullable. Legacy rows may hold NULL there; the models expose that through
// pointers so the repair tooling can tell NULL apart from zero.
package models
