package templates_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/email/templates"
)

func TestBillingTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := templates.BillingParams{
		ClientName: "Maria <b>Silva</b>",
		PlanName:   "Consultoria Mensal",
		Amount:     "R$ 150,00",
		Reason:     "Cartão recusado",
	}

	t.Run("payment confirmed", func(t *testing.T) {
		t.Parallel()
		html, err := templates.Render(ctx, templates.PaymentConfirmed(p))
		require.NoError(t, err)
		assert.Contains(t, html, "Pagamento Confirmado")
		assert.Contains(t, html, "R$ 150,00")
		assert.NotContains(t, html, "Cartão recusado")
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		html, err := templates.Render(ctx, templates.PaymentFailed(p))
		require.NoError(t, err)
		assert.Contains(t, html, "Falha no Pagamento")
		assert.Contains(t, html, "Cartão recusado")
		assert.Contains(t, html, "regularizar o pagamento")
	})

	t.Run("canceled without reason", func(t *testing.T) {
		t.Parallel()
		html, err := templates.Render(ctx, templates.SubscriptionCanceled(templates.BillingParams{ClientName: "Maria", PlanName: "Plano"}))
		require.NoError(t, err)
		assert.Contains(t, html, "Assinatura Cancelada")
		assert.NotContains(t, html, "Motivo")
	})

	t.Run("escapes client data", func(t *testing.T) {
		t.Parallel()
		html, err := templates.Render(ctx, templates.SubscriptionCanceled(p))
		require.NoError(t, err)
		assert.Contains(t, html, "Maria &lt;b&gt;Silva&lt;/b&gt;")
		assert.NotContains(t, html, "<b>Silva</b>")
	})
}

func TestRender_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("render failed")
	_, err := templates.Render(context.Background(), templ.ComponentFunc(func(context.Context, io.Writer) error {
		return boom
	}))
	assert.ErrorIs(t, err, boom)
}
