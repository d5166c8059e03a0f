package catalog

import "github.com/tjfontaine/tenant-mcp-gateway/internal/registry"

type fields = map[string]registry.Property

func str(desc string) registry.Property {
	return registry.Property{Type: "string", Description: desc}
}

func nonEmpty(desc string) registry.Property {
	return registry.Property{Type: "string", Description: desc, MinLength: registry.MinLen(1)}
}

func email(desc string) registry.Property {
	return registry.Property{Type: "string", Format: "email", Description: desc, MinLength: registry.MinLen(1)}
}

func integer(desc string) registry.Property {
	return registry.Property{Type: "integer", Description: desc}
}

func count(desc string, min float64) registry.Property {
	return registry.Property{Type: "integer", Description: desc, Minimum: registry.Min(min)}
}

func amount(desc string) registry.Property {
	return registry.Property{Type: "number", Description: desc, Minimum: registry.Min(0.01)}
}

func enum(desc string, values ...string) registry.Property {
	return registry.Property{Type: "string", Description: desc, Enum: values}
}

func object(desc string, props map[string]registry.Property, required ...string) registry.Property {
	return registry.Property{Type: "object", Description: desc, Properties: props, Required: required}
}

func array(desc string, items registry.Property) registry.Property {
	return registry.Property{Type: "array", Description: desc, Items: &items}
}

// noArgs is the schema of tools without arguments.
var noArgs = registry.Object(nil)
