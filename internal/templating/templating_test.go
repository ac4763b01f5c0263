package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

func contact() domain.Contact {
	return domain.Contact{
		Name:            "Ana",
		NormalizedPhone: "+573001234567",
		Fields: map[string]string{
			"nombre":   "Ana",
			"empresa":  "Acme",
			"producto": "",
			"ciudad":   "Bogotá",
		},
	}
}

func TestResolvePriority(t *testing.T) {
	c := contact()

	tests := []struct {
		name     string
		variable string
		mappings map[string]string
		defaults map[string]string
		want     string
	}{
		{
			name:     "explicit mapping wins over default and direct match",
			variable: "ciudad",
			mappings: map[string]string{"ciudad": "Empresa"},
			defaults: map[string]string{"ciudad": "Cali"},
			want:     "Acme",
		},
		{
			name:     "default wins over direct column match",
			variable: "ciudad",
			defaults: map[string]string{"ciudad": "Cali"},
			want:     "Cali",
		},
		{
			name:     "empty mapped cell falls through to default",
			variable: "1",
			mappings: map[string]string{"1": "producto"},
			defaults: map[string]string{"1": "nuestro plan"},
			want:     "nuestro plan",
		},
		{
			name:     "direct column match",
			variable: "ciudad",
			want:     "Bogotá",
		},
		{
			name:     "nothing matches",
			variable: "descuento",
			want:     "",
		},
		{
			name:     "mapping to a missing column falls through to direct match",
			variable: "empresa",
			mappings: map[string]string{"empresa": "company"},
			want:     "Acme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveVariables([]string{tt.variable}, c, tt.mappings, tt.defaults)
			assert.Equal(t, tt.want, got[tt.variable])
		})
	}
}

func TestResolveMappingHeaderNormalized(t *testing.T) {
	c := domain.Contact{Fields: map[string]string{"nombre_completo": "Ana María"}}
	got := ResolveVariables([]string{"1"}, c, map[string]string{"1": "Nombre Completo"}, nil)
	assert.Equal(t, "Ana María", got["1"])
}

func TestRenderNamedAndPositional(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("", "Hola {{nombre}}, tu pedido en {{ ciudad }} está listo", map[string]string{
		"nombre": "Ana", "ciudad": "Bogotá",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola Ana, tu pedido en Bogotá está listo", out)

	out, err = r.Render("tpl-1", "Hola {{1}}, código {{2}}", map[string]string{"1": "Luis", "2": "X9"})
	require.NoError(t, err)
	assert.Equal(t, "Hola Luis, código X9", out)

	// Cached compile is reused for the same key.
	out, err = r.Render("tpl-1", "ignored", map[string]string{"1": "Marta", "2": "Y1"})
	require.NoError(t, err)
	assert.Equal(t, "Hola Marta, código Y1", out)
}

func TestRenderMissingVariableIsEmpty(t *testing.T) {
	out, err := NewRenderer().Render("", "Hola {{nombre}}!", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hola !", out)
}

func TestValidate(t *testing.T) {
	r := NewRenderer()
	assert.NoError(t, r.Validate("Hola {{1}}"))
	assert.Error(t, r.Validate("Hola {% if nombre %}sin cerrar"))
}
