package notify

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

type EventKind string

const (
	EventNewListing  EventKind = "new_listing"
	EventPriceChange EventKind = "price_change"
	EventError       EventKind = "error"
	EventInfo        EventKind = "info"
	EventSuccess     EventKind = "success"
)

var templates = map[EventKind]string{
	EventNewListing: "🆕 New listing: {{.title}}\n" +
		"💰 Price: {{.price}}\n" +
		"📍 Location: {{.city}}\n" +
		"👤 Seller: {{.seller_name}}\n" +
		"🔗 {{.url}}",
	EventPriceChange: "💸 Price change: {{.title}}\n" +
		"📉 Old price: {{.old_price}}\n" +
		"📈 New price: {{.new_price}}\n" +
		"📍 Location: {{.city}}\n" +
		"🔗 {{.url}}",
	EventError:   "❌ Error: {{.error}}",
	EventInfo:    "ℹ️ {{.message}}",
	EventSuccess: "✅ {{.message}}",
}

const fallbackTemplate = "{{.message}}"

var compiled = compileTemplates()

func compileTemplates() map[EventKind]*template.Template {
	out := make(map[EventKind]*template.Template, len(templates)+1)
	for kind, text := range templates {
		out[kind] = template.Must(template.New(string(kind)).Option("missingkey=error").Parse(text))
	}
	out[""] = template.Must(template.New("fallback").Option("missingkey=error").Parse(fallbackTemplate))
	return out
}

var priceFields = []string{"price", "old_price", "new_price"}

// FormatMessage renders the template for kind. Price fields are grouped by thousands.
// A missing field yields a diagnostic string instead of an error.
func FormatMessage(kind EventKind, fields map[string]any) string {
	tmpl, ok := compiled[kind]
	if !ok {
		tmpl = compiled[""]
	}

	data := make(map[string]any, len(fields))
	for k, v := range fields {
		data[k] = v
	}
	for _, key := range priceFields {
		if v, ok := data[key]; ok {
			data[key] = FormatPrice(v)
		}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Sprintf("Message formatting error: %v", err)
	}
	return b.String()
}

// FormatPrice renders integers as "1 250 000 Ft" and nil prices as "on request".
// Any other value is printed as is.
func FormatPrice(v any) string {
	switch p := v.(type) {
	case nil:
		return "on request"
	case *int64:
		if p == nil {
			return "on request"
		}
		return GroupThousands(*p) + " Ft"
	case int64:
		return GroupThousands(p) + " Ft"
	case int:
		return GroupThousands(int64(p)) + " Ft"
	default:
		return fmt.Sprint(v)
	}
}

// GroupThousands separates digit groups with a space.
func GroupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
