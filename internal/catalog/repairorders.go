package catalog

import (
	"net/http"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
)

const repairOrdersPath = "/api/repair-orders"

var (
	roStatus  = []string{"CREATED", "IN_PROGRESS", "COMPLETED"}
	roID      = fields{"id": integer("Repair order ID")}
	roNumber  = fields{"roNumber": nonEmpty("Repair order number")}
	roMutates = []string{"orders", "stats"}
)

func roPart() registry.Property {
	return object("Part used on the repair order", fields{
		"partId":     nonEmpty("Part ID"),
		"partNumber": nonEmpty("Part number"),
		"quantity":   count("Quantity", 1),
		"unitPrice":  registry.Property{Type: "number", Description: "Unit price", Minimum: registry.Min(0)},
	}, "partId", "partNumber", "quantity", "unitPrice")
}

func repairOrderFields() fields {
	return fields{
		"roNumber": nonEmpty("Repair order number"),
		"vehicleDetails": object("Vehicle", fields{
			"vehicleVin":   nonEmpty("VIN"),
			"vehicleMake":  nonEmpty("Make"),
			"vehicleModel": nonEmpty("Model"),
			"vehicleYear":  count("Model year", 1900),
			"mileage":      count("Odometer reading", 0),
		}, "vehicleVin", "vehicleMake", "vehicleModel", "vehicleYear", "mileage"),
		"jobDetails": object("Job", fields{
			"jobDescription": nonEmpty("Description of the work"),
			"estimatedHours": registry.Property{Type: "number", Description: "Estimated hours", Minimum: registry.Min(0)},
			"laborRate":      registry.Property{Type: "number", Description: "Labor rate per hour", Minimum: registry.Min(0)},
			"jobCategory":    nonEmpty("Job category"),
		}, "jobDescription", "estimatedHours", "laborRate", "jobCategory"),
		"technicianDetails": object("Assigned technician", fields{
			"technicianName":  nonEmpty("Technician name"),
			"technicianId":    nonEmpty("Technician ID"),
			"technicianLevel": nonEmpty("Technician level"),
		}, "technicianName", "technicianId", "technicianLevel"),
		"status": enum("Status", roStatus...),
		"parts":  array("Parts used", roPart()),
	}
}

func repairOrderRoutes() []Route {
	byID := repairOrderFields()
	byID["id"] = roID["id"]
	byNumber := repairOrderFields()

	return []Route{
		{
			Name:        "create_repair_order",
			Description: "Create a repair order",
			Resource:    "orders",
			Method:      http.MethodPost,
			Path:        repairOrdersPath,
			Body:        true,
			Schema:      registry.Object(repairOrderFields(), "roNumber", "vehicleDetails", "jobDetails", "technicianDetails"),
			Invalidates: roMutates,
		},
		{
			Name:        "get_all_repair_orders",
			Description: "List repair orders with pagination and sorting",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath,
			Query:       []string{"page", "size", "sortBy", "sortDir"},
			Schema: registry.Object(fields{
				"page":    count("Page number (0-based)", 0),
				"size":    count("Page size", 1),
				"sortBy":  str("Sort by field"),
				"sortDir": enum("Sort direction", "asc", "desc"),
			}),
			Defaults: map[string]any{"page": 0, "size": 10, "sortBy": "id", "sortDir": "asc"},
		},
		{
			Name:        "get_repair_order_by_id",
			Description: "Get a repair order by ID",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/{id}",
			Schema:      registry.Object(roID, "id"),
		},
		{
			Name:        "get_repair_order_by_number",
			Description: "Get a repair order by RO number",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/number/{roNumber}",
			Schema:      registry.Object(roNumber, "roNumber"),
		},
		{
			Name:        "update_repair_order",
			Description: "Replace a repair order by ID",
			Resource:    "orders",
			Method:      http.MethodPut,
			Path:        repairOrdersPath + "/{id}",
			Body:        true,
			Schema:      registry.Object(byID, "id", "roNumber", "vehicleDetails", "jobDetails", "technicianDetails"),
			Invalidates: roMutates,
		},
		{
			Name:        "update_repair_order_by_number",
			Description: "Replace a repair order by RO number",
			Resource:    "orders",
			Method:      http.MethodPut,
			Path:        repairOrdersPath + "/number/{roNumber}",
			Body:        true,
			Schema:      registry.Object(byNumber, "roNumber", "vehicleDetails", "jobDetails", "technicianDetails"),
			Invalidates: roMutates,
		},
		{
			Name:        "delete_repair_order",
			Description: "Delete a repair order by ID",
			Resource:    "orders",
			Method:      http.MethodDelete,
			Path:        repairOrdersPath + "/{id}",
			Schema:      registry.Object(roID, "id"),
			Invalidates: roMutates,
		},
		{
			Name:        "delete_repair_order_by_number",
			Description: "Delete a repair order by RO number",
			Resource:    "orders",
			Method:      http.MethodDelete,
			Path:        repairOrdersPath + "/number/{roNumber}",
			Schema:      registry.Object(roNumber, "roNumber"),
			Invalidates: roMutates,
		},
		{
			Name:        "get_repair_orders_by_status",
			Description: "List repair orders in a status",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/status/{status}",
			Schema:      registry.Object(fields{"status": enum("Status", roStatus...)}, "status"),
		},
		{
			Name:        "get_repair_orders_by_technician",
			Description: "List repair orders assigned to a technician",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/technician/{technicianId}",
			Schema:      registry.Object(fields{"technicianId": nonEmpty("Technician ID")}, "technicianId"),
		},
		{
			Name:        "get_repair_orders_by_vin",
			Description: "List repair orders for a vehicle VIN",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/vehicle/vin/{vin}",
			Schema:      registry.Object(fields{"vin": nonEmpty("VIN")}, "vin"),
		},
		{
			Name:        "get_repair_orders_by_vehicle",
			Description: "List repair orders for a vehicle make and model",
			Resource:    "orders",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/vehicle/{make}/{model}",
			Schema: registry.Object(fields{
				"make":  nonEmpty("Vehicle make"),
				"model": nonEmpty("Vehicle model"),
			}, "make", "model"),
		},
		{
			Name:        "add_part_to_repair_order",
			Description: "Add a part to a repair order",
			Resource:    "orders",
			Method:      http.MethodPost,
			Path:        repairOrdersPath + "/number/{roNumber}/parts",
			Body:        true,
			Schema: registry.Object(fields{
				"roNumber":   nonEmpty("Repair order number"),
				"partId":     nonEmpty("Part ID"),
				"partNumber": nonEmpty("Part number"),
				"quantity":   count("Quantity", 1),
				"unitPrice":  registry.Property{Type: "number", Description: "Unit price", Minimum: registry.Min(0)},
			}, "roNumber", "partId", "partNumber", "quantity", "unitPrice"),
			Invalidates: roMutates,
		},
		{
			Name:        "update_repair_order_status",
			Description: "Change the status of a repair order",
			Resource:    "orders",
			Method:      http.MethodPatch,
			Path:        repairOrdersPath + "/number/{roNumber}/status",
			Body:        true,
			Schema: registry.Object(fields{
				"roNumber": nonEmpty("Repair order number"),
				"status":   enum("New status", roStatus...),
			}, "roNumber", "status"),
			Invalidates: roMutates,
		},
		{
			Name:        "get_repair_order_stats",
			Description: "Counts of repair orders by status",
			Resource:    "stats",
			Method:      http.MethodGet,
			Path:        repairOrdersPath + "/stats",
			Schema:      noArgs,
		},
	}
}
