package service

import (
	"regexp"
	"strings"

	"github.com/outreachhq/outreach-backend/internal/model"
)

var tokenPattern = regexp.MustCompile(`\{[a-z0-9_]+\}`)

// RenderTemplate substitutes the fixed set of personalization tokens with
// lead fields. Tokens outside the known set render as empty strings instead
// of leaking braces into an outbound message.
func RenderTemplate(template string, lead *model.CampaignLead) string {
	replacer := strings.NewReplacer(
		"{first_name}", lead.FirstName,
		"{last_name}", lead.LastName,
		"{company}", lead.Company,
		"{position}", lead.Position,
		"{phone}", lead.Phone,
		"{custom1}", lead.Custom1,
		"{custom2}", lead.Custom2,
	)
	rendered := replacer.Replace(template)
	return tokenPattern.ReplaceAllString(rendered, "")
}
