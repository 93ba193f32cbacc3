package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// BillingParams fills the tenant-admin billing emails. Amount is preformatted.
type BillingParams struct {
	ClientName string
	PlanName   string
	Amount     string
	Reason     string
}

type row struct{ label, value string }

func PaymentConfirmed(p BillingParams) templ.Component {
	return notice("#10B981", "Pagamento Confirmado",
		"O pagamento da assinatura foi processado com sucesso:",
		[]row{{"Cliente", p.ClientName}, {"Plano", p.PlanName}, {"Valor", p.Amount}},
		"")
}

func PaymentFailed(p BillingParams) templ.Component {
	return notice("#EF4444", "Falha no Pagamento",
		"Houve uma falha no processamento do pagamento:",
		[]row{{"Cliente", p.ClientName}, {"Plano", p.PlanName}, {"Motivo", p.Reason}},
		"Entre em contato com o cliente para regularizar o pagamento.")
}

func SubscriptionCanceled(p BillingParams) templ.Component {
	rows := []row{{"Cliente", p.ClientName}, {"Plano", p.PlanName}}
	if p.Reason != "" {
		rows = append(rows, row{"Motivo", p.Reason})
	}
	return notice("#F59E0B", "Assinatura Cancelada",
		"Uma assinatura foi cancelada:",
		rows,
		"Considere entrar em contato com o cliente para entender os motivos.")
}

// notice is the shared layout. Only row values carry user data.
func notice(color, title, intro string, rows []row, footer string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		parts := []string{
			`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`,
			`<h2 style="color: ` + color + `;">` + title + `</h2>`,
			`<p>` + intro + `</p>`,
			`<ul>`,
		}
		for _, r := range rows {
			parts = append(parts, `<li><strong>`+r.label+`:</strong> `+templ.EscapeString(r.value)+`</li>`)
		}
		parts = append(parts, `</ul>`)
		if footer != "" {
			parts = append(parts, `<p>`+footer+`</p>`)
		}
		parts = append(parts, `</div>`)

		for _, s := range parts {
			if _, err := io.WriteString(w, s+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}
