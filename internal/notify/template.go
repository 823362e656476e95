package notify

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/licitabr/pncp-harvester/internal/match"
)

const emailTemplate = `<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>Olá{{if .Name}}, {{.Name}}{{end}}!</h2>
<p>Encontramos {{len .Matches}} licitação(ões) para o perfil <strong>{{.Profile}}</strong>:</p>
{{range .Matches}}
<div style="border: 1px solid #ddd; padding: 12px; margin-bottom: 12px;">
	<h3>{{highlight .Description .Keywords}}</h3>
	<p>
		<strong>Identificador:</strong> {{.ControlNumber}}<br>
		<strong>Modalidade:</strong> {{.CategoryLabel}}<br>
		<strong>Órgão:</strong> {{.BuyerName}}<br>
		<strong>Local:</strong> {{.City}}/{{.Region}}<br>
		<strong>Valor estimado:</strong> {{currency .EstimatedTotal}}<br>
		<strong>Publicada em:</strong> {{date .PublishedAt}}<br>
		<strong>Encerramento:</strong> {{date .ClosesAt}}
	</p>
	{{if .Items}}
	<ul>
		{{range .Items}}
		<li>Item {{.Number}}: {{highlight .RawDesc .MatchedWords}}</li>
		{{end}}
	</ul>
	{{end}}
	<p><em>Palavras encontradas: {{join .Keywords ", "}}</em></p>
</div>
{{end}}
</body>
</html>`

var emailTmpl = template.Must(template.New("notification").Funcs(template.FuncMap{
	"currency": func(v *float64) string {
		if v == nil {
			return "não informado"
		}
		return FormatBRL(*v)
	},
	"date": func(t *time.Time) string {
		if t == nil {
			return "não informada"
		}
		return t.Format("02/01/2006 15:04")
	},
	"join": strings.Join,
	// Matched-keyword markup is produced by the engine; trust it.
	"highlight": func(text string, keywords []string) template.HTML {
		return template.HTML(match.Highlight(template.HTMLEscapeString(text), keywords))
	},
}).Parse(emailTemplate))

type emailData struct {
	Name    string
	Profile string
	Matches []match.Match
}

// Render produces the HTML body for one profile's matches.
func Render(name, profile string, matches []match.Match) (string, error) {
	var sb strings.Builder
	err := emailTmpl.Execute(&sb, emailData{Name: name, Profile: profile, Matches: matches})
	if err != nil {
		return "", fmt.Errorf("render notification email: %w", err)
	}
	return sb.String(), nil
}

// FormatBRL formats a value as Brazilian currency, e.g. 1234567.89 ->
// "R$ 1.234.567,89".
func FormatBRL(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := fmt.Sprintf("%.2f", v)
	intPart, fracPart, _ := strings.Cut(whole, ".")

	var sb strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(digit)
	}

	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, sb.String(), fracPart)
}
