package app

import (
	"testing"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate_SubstitutesLeadVars(t *testing.T) {
	lead := &core_domain.Lead{
		Name:        "Maria",
		Phone:       "45999990000",
		CountryCode: "55",
	}
	vars := VarsForLead(lead, nil)

	assert.Equal(t, "Olá Maria", RenderTemplate("Olá {{nome}}", vars))
	assert.Equal(t, "Ligue para +55 (45) 99999-0000", RenderTemplate("Ligue para {{telefone}}", vars))
}

func TestRenderTemplate_ExtraVars(t *testing.T) {
	lead := &core_domain.Lead{Name: "Maria", Phone: "45999990000", CountryCode: "55"}
	vars := VarsForLead(lead, map[string]string{
		"valor":     "R$ 1.250,00",
		"data":      "12/09/2026",
		"beneficio": "aposentadoria",
		"cpf":       "123.456.789-00",
	})

	rendered := RenderTemplate("{{nome}}, seu {{beneficio}} de {{valor}} sai em {{data}} (CPF {{cpf}})", vars)
	assert.Equal(t, "Maria, seu aposentadoria de R$ 1.250,00 sai em 12/09/2026 (CPF 123.456.789-00)", rendered)
}

func TestRenderTemplate_ExtraNomeOverridesLeadName(t *testing.T) {
	lead := &core_domain.Lead{Name: "Contato 4599...0000", Phone: "45999990000", CountryCode: "55"}
	vars := VarsForLead(lead, map[string]string{"nome": "Maria"})
	assert.Equal(t, "Olá Maria", RenderTemplate("Olá {{nome}}", vars))
}

func TestRenderTemplate_UnknownPlaceholderLeftVisible(t *testing.T) {
	vars := TemplateVars{Nome: "Maria"}
	assert.Equal(t, "Olá Maria, código {{codigo}}", RenderTemplate("Olá {{nome}}, código {{codigo}}", vars))
}

func TestMediaResolver_NoStoreConfigured(t *testing.T) {
	resolver := NewMediaResolver(nil, 0)

	_, err := resolver.Resolve("uploads/abc.ogg")
	var storeErr *core_domain.StorageResolutionError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "uploads/abc.ogg", storeErr.Ref)
}
