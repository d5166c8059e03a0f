package catalog

import (
	"net/http"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
)

const (
	transactionsPath = "/api/v1/transactions"
	paymentLinksPath = "/api/v1/payment-links"
)

var (
	cardTypes          = []string{"VISA", "MASTERCARD", "AMEX", "RUPAY", "UPI", "NETBANKING"}
	paymentTypes       = []string{"CREDIT", "DEBIT"}
	transactionStatus  = []string{"INITIATED", "CAPTURED", "FAILED", "CANCELLED"}
	transactionID      = fields{"id": integer("Transaction ID")}
	paymentLinkID      = fields{"linkId": nonEmpty("Payment link ID")}
	transactionSorting = fields{
		"page":          count("Page number (0-based)", 0),
		"size":          count("Page size", 1),
		"sortBy":        str("Sort by field"),
		"sortDirection": enum("Sort direction", "asc", "desc"),
	}
)

func paymentRoutes() []Route {
	return []Route{
		// Transactions
		{
			Name:        "create_transaction",
			Description: "Create a new payment transaction for an invoice",
			Resource:    "transactions",
			Method:      http.MethodPost,
			Path:        transactionsPath,
			Body:        true,
			Schema: registry.Object(fields{
				"invoiceId":     nonEmpty("Invoice ID"),
				"invoiceNumber": nonEmpty("Invoice number"),
				"customerId":    nonEmpty("Customer ID"),
				"customerEmail": email("Customer email"),
				"amount":        amount("Amount to charge"),
				"currency":      str("ISO currency code (backend default INR)"),
				"paymentType":   enum("Payment type", paymentTypes...),
				"cardType":      enum("Card type", cardTypes...),
				"paymentMethod": str("Payment method"),
				"description":   str("Description"),
			}, "invoiceId", "invoiceNumber", "customerId", "customerEmail", "amount", "paymentType", "cardType"),
		},
		{
			Name:        "get_transaction",
			Description: "Get a transaction by ID",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/{id}",
			Schema:      registry.Object(transactionID, "id"),
		},
		{
			Name:        "get_transactions_list",
			Description: "List transactions with pagination and sorting",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath,
			Query:       []string{"page", "size", "sortBy", "sortDirection"},
			Schema:      registry.Object(transactionSorting),
			Defaults:    map[string]any{"page": 0, "size": 20, "sortBy": "createdAt", "sortDirection": "desc"},
		},
		{
			Name:        "get_transactions_by_customer",
			Description: "List transactions for a customer email",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/customer/{email}",
			Schema:      registry.Object(fields{"email": email("Customer email")}, "email"),
		},
		{
			Name:        "get_transactions_by_card_type",
			Description: "List transactions by card type",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/card-type/{cardType}",
			Schema:      registry.Object(fields{"cardType": enum("Card type", cardTypes...)}, "cardType"),
		},
		{
			Name:        "get_transactions_by_payment_type",
			Description: "List transactions by payment type",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/payment-type/{paymentType}",
			Schema:      registry.Object(fields{"paymentType": enum("Payment type", paymentTypes...)}, "paymentType"),
		},
		{
			Name:        "get_transactions_by_invoice",
			Description: "List transactions for an invoice ID",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/invoice/{invoiceId}",
			Schema:      registry.Object(fields{"invoiceId": nonEmpty("Invoice ID")}, "invoiceId"),
		},
		{
			Name:        "get_transactions_by_invoice_number",
			Description: "List transactions for an invoice number",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/invoice-number/{invoiceNumber}",
			Schema:      registry.Object(fields{"invoiceNumber": nonEmpty("Invoice number")}, "invoiceNumber"),
		},
		{
			Name:        "get_transactions_by_status",
			Description: "List transactions by status",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/status/{status}",
			Schema:      registry.Object(fields{"status": enum("Transaction status", transactionStatus...)}, "status"),
		},
		{
			Name:        "get_transaction_by_reference",
			Description: "Get a transaction by its gateway reference",
			Resource:    "transactions",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/reference/{transactionReference}",
			Schema:      registry.Object(fields{"transactionReference": nonEmpty("Transaction reference")}, "transactionReference"),
		},
		{
			Name:        "process_transaction",
			Description: "Process a transaction and mark it CAPTURED",
			Resource:    "transactions",
			Method:      http.MethodPut,
			Path:        transactionsPath + "/{id}/process",
			Schema:      registry.Object(transactionID, "id"),
		},
		{
			Name:        "update_transaction_status",
			Description: "Update the status of a transaction",
			Resource:    "transactions",
			Method:      http.MethodPut,
			Path:        transactionsPath + "/{id}/status",
			Query:       []string{"status"},
			Schema: registry.Object(fields{
				"id":     integer("Transaction ID"),
				"status": enum("New status", transactionStatus...),
			}, "id", "status"),
		},
		{
			Name:        "get_card_types",
			Description: "List supported card types",
			Resource:    "metadata",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/metadata/card-types",
			Schema:      noArgs,
			TTL:         time.Hour,
		},
		{
			Name:        "get_payment_types",
			Description: "List supported payment types",
			Resource:    "metadata",
			Method:      http.MethodGet,
			Path:        transactionsPath + "/metadata/payment-types",
			Schema:      noArgs,
			TTL:         time.Hour,
		},

		// Payment links
		{
			Name:        "create_payment_link",
			Description: "Create a payment link for an invoice",
			Resource:    "links",
			Method:      http.MethodPost,
			Path:        paymentLinksPath,
			Body:        true,
			Schema: registry.Object(fields{
				"invoiceId":     nonEmpty("Invoice ID"),
				"invoiceNumber": nonEmpty("Invoice number"),
				"amount":        amount("Amount to collect"),
				"currency":      str("ISO currency code (backend default INR)"),
				"customerEmail": email("Customer email"),
				"expiryDate":    str("Expiry as ISO-8601 local date-time"),
				"description":   str("Description"),
			}, "invoiceId", "invoiceNumber", "amount", "customerEmail"),
		},
		{
			Name:        "get_payment_link",
			Description: "Get a payment link by ID",
			Resource:    "links",
			Method:      http.MethodGet,
			Path:        paymentLinksPath + "/{linkId}",
			Schema:      registry.Object(paymentLinkID, "linkId"),
		},
		{
			Name:        "get_payment_links_list",
			Description: "List all payment links",
			Resource:    "links",
			Method:      http.MethodGet,
			Path:        paymentLinksPath,
			Schema:      noArgs,
		},
		{
			Name:        "get_payment_links_by_invoice",
			Description: "List payment links for an invoice ID",
			Resource:    "links",
			Method:      http.MethodGet,
			Path:        paymentLinksPath + "/invoice/{invoiceId}",
			Schema:      registry.Object(fields{"invoiceId": nonEmpty("Invoice ID")}, "invoiceId"),
		},
		{
			Name:        "get_payment_links_by_invoice_number",
			Description: "List payment links for an invoice number",
			Resource:    "links",
			Method:      http.MethodGet,
			Path:        paymentLinksPath + "/invoice-number/{invoiceNumber}",
			Schema:      registry.Object(fields{"invoiceNumber": nonEmpty("Invoice number")}, "invoiceNumber"),
		},
		{
			Name:        "get_payment_links_by_customer",
			Description: "List payment links for a customer email",
			Resource:    "links",
			Method:      http.MethodGet,
			Path:        paymentLinksPath + "/customer/{email}",
			Schema:      registry.Object(fields{"email": email("Customer email")}, "email"),
		},
		{
			Name:        "process_payment_link",
			Description: "Process a payment link and update its transaction",
			Resource:    "links",
			Method:      http.MethodPost,
			Path:        paymentLinksPath + "/{linkId}/process",
			Schema:      registry.Object(paymentLinkID, "linkId"),
			Invalidates: []string{"links", "transactions"},
		},
		{
			Name:        "cancel_payment_link",
			Description: "Cancel a payment link and update its transaction",
			Resource:    "links",
			Method:      http.MethodPost,
			Path:        paymentLinksPath + "/{linkId}/cancel",
			Schema:      registry.Object(paymentLinkID, "linkId"),
			Invalidates: []string{"links", "transactions"},
		},
		{
			Name:        "expire_old_payment_links",
			Description: "Expire payment links past their expiry date",
			Resource:    "links",
			Method:      http.MethodPost,
			Path:        paymentLinksPath + "/expire-old",
			Schema:      noArgs,
		},
	}
}
