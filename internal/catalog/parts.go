package catalog

import (
	"net/http"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
)

const partsPath = "/api/parts"

var partID = fields{"id": nonEmpty("Part ID")}

func partFields() fields {
	return fields{
		"partNumber":         nonEmpty("Manufacturer part number"),
		"name":               nonEmpty("Part name"),
		"description":        str("Description"),
		"category":           nonEmpty("Category"),
		"brand":              nonEmpty("Brand"),
		"price":              amount("Unit price"),
		"quantityInStock":    count("Quantity in stock", 0),
		"location":           str("Warehouse location"),
		"weightKg":           registry.Property{Type: "number", Description: "Weight in kilograms"},
		"dimensions":         str("Dimensions"),
		"compatibleVehicles": str("Compatible vehicles"),
		"supplier":           str("Supplier"),
		"supplierPartNumber": str("Supplier part number"),
		"warrantyMonths":     count("Warranty in months", 0),
		"isOem":              registry.Property{Type: "boolean", Description: "Original equipment part"},
	}
}

func partRoutes() []Route {
	update := partFields()
	update["id"] = partID["id"]

	return []Route{
		{
			Name:        "get_all_parts",
			Description: "List all parts",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath,
			Schema:      noArgs,
		},
		{
			Name:        "get_part_by_id",
			Description: "Get a part by ID",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/{id}",
			Schema:      registry.Object(partID, "id"),
		},
		{
			Name:        "get_part_by_number",
			Description: "Get a part by part number",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/part-number/{partNumber}",
			Schema:      registry.Object(fields{"partNumber": nonEmpty("Part number")}, "partNumber"),
		},
		{
			Name:        "create_part",
			Description: "Create a new part",
			Resource:    "catalog",
			Method:      http.MethodPost,
			Path:        partsPath,
			Body:        true,
			Schema:      registry.Object(partFields(), "partNumber", "name", "category", "brand", "price"),
			Invalidates: []string{"catalog", "stock", "facets"},
		},
		{
			Name:        "update_part",
			Description: "Replace the details of a part",
			Resource:    "catalog",
			Method:      http.MethodPut,
			Path:        partsPath + "/{id}",
			Body:        true,
			Schema:      registry.Object(update, "id", "partNumber", "name", "category", "brand", "price"),
			Invalidates: []string{"catalog", "stock", "facets"},
		},
		{
			Name:        "delete_part",
			Description: "Delete a part",
			Resource:    "catalog",
			Method:      http.MethodDelete,
			Path:        partsPath + "/{id}",
			Schema:      registry.Object(partID, "id"),
			Invalidates: []string{"catalog", "stock", "facets"},
		},
		{
			Name:        "get_parts_by_category",
			Description: "List parts in a category",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/category/{category}",
			Schema:      registry.Object(fields{"category": nonEmpty("Category")}, "category"),
		},
		{
			Name:        "get_parts_by_brand",
			Description: "List parts of a brand",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/brand/{brand}",
			Schema:      registry.Object(fields{"brand": nonEmpty("Brand")}, "brand"),
		},
		{
			Name:        "search_parts",
			Description: "Search parts by name, number or description",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/search",
			Query:       []string{"term"},
			Schema:      registry.Object(fields{"term": nonEmpty("Search term")}, "term"),
		},
		{
			Name:        "get_parts_by_price_range",
			Description: "List parts priced between minPrice and maxPrice",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/price-range",
			Query:       []string{"minPrice", "maxPrice"},
			Schema: registry.Object(fields{
				"minPrice": registry.Property{Type: "number", Description: "Lowest price", Minimum: registry.Min(0)},
				"maxPrice": registry.Property{Type: "number", Description: "Highest price", Minimum: registry.Min(0)},
			}, "minPrice", "maxPrice"),
		},
		{
			Name:        "get_low_stock_parts",
			Description: "List parts at or below a stock threshold",
			Resource:    "stock",
			Method:      http.MethodGet,
			Path:        partsPath + "/low-stock",
			Query:       []string{"threshold"},
			Schema:      registry.Object(fields{"threshold": count("Stock threshold", 0)}),
			Defaults:    map[string]any{"threshold": 10},
		},
		{
			Name:        "get_out_of_stock_parts",
			Description: "List parts with no stock",
			Resource:    "stock",
			Method:      http.MethodGet,
			Path:        partsPath + "/out-of-stock",
			Schema:      noArgs,
		},
		{
			Name:        "get_all_categories",
			Description: "List part categories",
			Resource:    "facets",
			Method:      http.MethodGet,
			Path:        partsPath + "/categories",
			Schema:      noArgs,
			TTL:         time.Hour,
		},
		{
			Name:        "get_all_brands",
			Description: "List part brands",
			Resource:    "facets",
			Method:      http.MethodGet,
			Path:        partsPath + "/brands",
			Schema:      noArgs,
			TTL:         time.Hour,
		},
		{
			Name:        "get_parts_by_compatible_vehicle",
			Description: "List parts compatible with a vehicle",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/compatible-vehicle",
			Query:       []string{"vehicle"},
			Schema:      registry.Object(fields{"vehicle": nonEmpty("Vehicle, e.g. 'Toyota Camry'")}, "vehicle"),
		},
		{
			Name:        "get_oem_parts",
			Description: "List original equipment parts",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/oem",
			Schema:      noArgs,
		},
		{
			Name:        "get_aftermarket_parts",
			Description: "List aftermarket parts",
			Resource:    "catalog",
			Method:      http.MethodGet,
			Path:        partsPath + "/aftermarket",
			Schema:      noArgs,
		},
		{
			Name:        "update_stock",
			Description: "Set the stock quantity of a part",
			Resource:    "stock",
			Method:      http.MethodPut,
			Path:        partsPath + "/{id}/stock",
			Body:        true,
			Schema: registry.Object(fields{
				"id":       nonEmpty("Part ID"),
				"quantity": count("New quantity in stock", 0),
			}, "id", "quantity"),
			Invalidates: []string{"stock", "catalog"},
		},
		{
			Name:        "adjust_stock",
			Description: "Add to or remove from the stock of a part",
			Resource:    "stock",
			Method:      http.MethodPut,
			Path:        partsPath + "/{id}/adjust-stock",
			Body:        true,
			Schema: registry.Object(fields{
				"id":         nonEmpty("Part ID"),
				"adjustment": integer("Signed stock adjustment"),
			}, "id", "adjustment"),
			Invalidates: []string{"stock", "catalog"},
		},
		{
			Name:        "check_part_availability",
			Description: "Check whether a part has the required quantity in stock",
			Resource:    "stock",
			Method:      http.MethodGet,
			Path:        partsPath + "/{id}/availability",
			Query:       []string{"requiredQuantity"},
			Schema: registry.Object(fields{
				"id":               nonEmpty("Part ID"),
				"requiredQuantity": count("Required quantity", 1),
			}, "id", "requiredQuantity"),
		},
	}
}
