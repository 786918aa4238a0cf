package negotiation

import "github.com/acp0/acp0/types"

// Product is one catalog entry a seller can offer. Price is in integer
// minor currency units.
type Product struct {
	SKU        string
	Name       string
	Price      int64
	Stock      int64
	Images     []string
	Attributes map[string]interface{}
}

func (p Product) item() types.Item {
	return types.Item{
		Name:       p.Name,
		SKU:        p.SKU,
		Images:     copyImages(p.Images),
		Attributes: copyAttributes(p.Attributes),
	}
}

// Inventory maps a category to its products in listing order.
type Inventory map[string][]Product

// Copy returns a deep copy of inv. Attribute values are copied one level
// deep.
func (inv Inventory) Copy() Inventory {
	out := make(Inventory, len(inv))
	for category, products := range inv {
		cp := make([]Product, len(products))
		for i, p := range products {
			p.Images = copyImages(p.Images)
			p.Attributes = copyAttributes(p.Attributes)
			cp[i] = p
		}
		out[category] = cp
	}
	return out
}

// MatchInventory picks the cheapest in-stock product whose price lies
// within budget, inclusive. Ties go to the product listed first. It reports
// false when nothing qualifies. The budget currency is not compared.
func MatchInventory(products []Product, budget types.Budget) (Product, bool) {
	var (
		best  Product
		found bool
	)
	for _, p := range products {
		if p.Stock <= 0 || !budget.Contains(p.Price) {
			continue
		}
		if !found || p.Price < best.Price {
			best, found = p, true
		}
	}
	return best, found
}

func copyImages(images []string) []string {
	if images == nil {
		return nil
	}
	return append([]string{}, images...)
}

func copyAttributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
