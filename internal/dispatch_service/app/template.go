package app

import (
	"strings"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	"github.com/atendezap/atendezap/internal/core_domain"
)

// TemplateVars are the substitution values available to message templates.
// Lead-derived values (nome, telefone) are filled automatically; the rest
// come from the caller's CRM record.
type TemplateVars struct {
	Nome      string
	Telefone  string
	Valor     string // monetary value, already formatted
	Data      string
	Beneficio string
	CPF       string
}

// VarsForLead seeds template vars from a lead, merged with extras.
func VarsForLead(lead *core_domain.Lead, extra map[string]string) TemplateVars {
	vars := TemplateVars{
		Nome:     lead.Name,
		Telefone: contactapp.FormatPhone(lead.CountryCode, lead.Phone),
	}
	if v, ok := extra["valor"]; ok {
		vars.Valor = v
	}
	if v, ok := extra["data"]; ok {
		vars.Data = v
	}
	if v, ok := extra["beneficio"]; ok {
		vars.Beneficio = v
	}
	if v, ok := extra["cpf"]; ok {
		vars.CPF = v
	}
	if v, ok := extra["nome"]; ok && v != "" {
		vars.Nome = v
	}
	return vars
}

// RenderTemplate substitutes {{var}} placeholders. Rendering happens before
// both transmission and persistence; the ledger only ever stores rendered
// content. Unknown placeholders are left as-is so a typo is visible instead
// of silently vanishing.
func RenderTemplate(content string, vars TemplateVars) string {
	replacer := strings.NewReplacer(
		"{{nome}}", vars.Nome,
		"{{telefone}}", vars.Telefone,
		"{{valor}}", vars.Valor,
		"{{data}}", vars.Data,
		"{{beneficio}}", vars.Beneficio,
		"{{cpf}}", vars.CPF,
	)
	return replacer.Replace(content)
}
