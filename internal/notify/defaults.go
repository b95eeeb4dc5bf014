package notify

// defaultTemplate is the channel-independent skeleton expanded into an in-app
// and an email variant at seed time. SMS carries the email variant's short
// form, so no separate sms row is seeded.
type defaultTemplate struct {
	key      string
	category string
	subject  string
	body     string
	short    string
	priority Priority
}

var builtinTemplates = []defaultTemplate{
	{
		key:      "approval-required",
		category: "approvals",
		subject:  "Approval required: {{operationType}}",
		body:     "{{requestedByName}} submitted a {{operationType}} for {{amount}} {{currency}} that needs your decision.",
		priority: PriorityHigh,
	},
	{
		key:      "approval-decided",
		category: "approvals",
		subject:  "Your {{operationType}} was {{decision}}",
		body:     "The {{operationType}} you submitted for {{amount}} {{currency}} was {{decision}}{{decisionNote}}.",
		priority: PriorityMedium,
	},
	{
		key:      "approval-escalated",
		category: "approvals",
		subject:  "Approval overdue: {{operationType}}",
		body:     "A pending {{operationType}} from {{requestedByName}} has waited past the escalation window.",
		short:    "Overdue approval: {{operationType}} from {{requestedByName}}",
		priority: PriorityCritical,
	},
	{
		key:      "capital-low-balance",
		category: "monitoring",
		subject:  "Working capital below watermark",
		body:     "Current balance {{balance}} is below the configured watermark {{watermark}}.",
		short:    "Capital low: {{balance}} (watermark {{watermark}})",
		priority: PriorityCritical,
	},
	{
		key:      "inventory-low-stock",
		category: "monitoring",
		subject:  "Low stock: {{productName}}",
		body:     "{{productName}} is down to {{quantity}} {{unit}} at {{warehouseName}}.",
		priority: PriorityHigh,
	},
	{
		key:      "document-expiry",
		category: "monitoring",
		subject:  "Document expiring: {{documentName}}",
		body:     "{{documentName}} for {{entityName}} expires on {{expiryDate}}.",
		priority: PriorityMedium,
	},
	{
		key:      "period-closed",
		category: "periods",
		subject:  "Accounting period {{periodNumber}} closed",
		body:     "Period {{periodNumber}} was closed by {{closedByName}}. Mutations dated inside it will be rejected.",
		priority: PriorityMedium,
	},
	{
		key:      "daily-digest",
		category: "digest",
		subject:  "Daily summary",
		body:     "You have {{unreadCount}} unread notifications, {{pendingApprovals}} pending approvals.",
		priority: PriorityLow,
	},
	{
		key:      "system-alert",
		category: "system",
		subject:  "{{title}}",
		body:     "{{message}}",
		short:    "{{title}}: {{message}}",
		priority: PriorityHigh,
	},
}

// DefaultTemplates returns the built-in template set seeded at startup: one
// in-app and one email variant per alert type. Tokens follow the {{name}}
// convention consumed by Render.
func DefaultTemplates() []Template {
	out := make([]Template, 0, len(builtinTemplates)*2)
	for _, d := range builtinTemplates {
		base := Template{
			Key:       d.key,
			Category:  d.category,
			Language:  "en",
			Subject:   d.subject,
			Body:      d.body,
			Priority:  d.priority,
			IsDefault: true,
			IsActive:  true,
		}
		inApp := base
		inApp.Channel = ChannelInApp
		email := base
		email.Channel = ChannelEmail
		email.SMSTemplate = d.short
		out = append(out, inApp, email)
	}
	return out
}
