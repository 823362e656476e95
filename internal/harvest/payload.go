package harvest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ItemStatusInProgress is the only line-item status that gets normalized;
// items in any other state are consumed without a silver counterpart.
const ItemStatusInProgress = "Em andamento"

// unitMaxLen bounds the unidade_medida column.
const unitMaxLen = 50

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	"2006-01-02",
}

// ParseTime parses the timestamp formats the PNCP API emits.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ControlNumber returns the globally unique PNCP identifier of a notice
// payload, or "" when absent.
func ControlNumber(payload []byte) string {
	return gjson.GetBytes(payload, "numeroControlePNCP").String()
}

// PublishedAt extracts the publication timestamp of a notice payload.
func PublishedAt(payload []byte) (time.Time, error) {
	raw := gjson.GetBytes(payload, "dataPublicacaoPncp").String()
	if raw == "" {
		return time.Time{}, fmt.Errorf("payload missing dataPublicacaoPncp")
	}
	return ParseTime(raw)
}

// ItemKeys extracts the three business keys needed to page the item endpoint.
// ok is false when any key is absent; that notice is a terminal SKIP.
func ItemKeys(payload []byte) (cnpj string, year int, seq int, ok bool) {
	cnpj = gjson.GetBytes(payload, "orgaoEntidade.cnpj").String()
	year = int(gjson.GetBytes(payload, "anoCompra").Int())
	seq = int(gjson.GetBytes(payload, "sequencialCompra").Int())
	ok = cnpj != "" && year != 0 && seq != 0
	return cnpj, year, seq, ok
}

// ExtractNotice maps an opaque notice payload to its normalized shape.
// Only the control number is required; every other field falls back to a
// zero value so a sparse payload never aborts a batch.
func ExtractNotice(payload []byte) (Notice, error) {
	ctrl := ControlNumber(payload)
	if ctrl == "" {
		return Notice{}, fmt.Errorf("payload missing numeroControlePNCP")
	}

	n := Notice{
		ControlNumber:  ctrl,
		Description:    CleanText(gjson.GetBytes(payload, "objetoCompra").String()),
		Year:           int(gjson.GetBytes(payload, "anoCompra").Int()),
		City:           gjson.GetBytes(payload, "unidadeOrgao.municipioNome").String(),
		Region:         gjson.GetBytes(payload, "unidadeOrgao.ufSigla").String(),
		BuyerName:      gjson.GetBytes(payload, "orgaoEntidade.razaoSocial").String(),
		BuyerID:        gjson.GetBytes(payload, "orgaoEntidade.cnpj").String(),
		EstimatedTotal: gjson.GetBytes(payload, "valorTotalEstimado").Float(),
		Status:         gjson.GetBytes(payload, "situacaoCompraNome").String(),
		CategoryLabel:  gjson.GetBytes(payload, "modalidadeNome").String(),
	}

	if pub := gjson.GetBytes(payload, "dataPublicacaoPncp"); pub.Exists() {
		t, err := ParseTime(pub.String())
		if err != nil {
			return Notice{}, fmt.Errorf("notice %s: %w", ctrl, err)
		}
		n.PublishedAt = t
	}
	if closing := gjson.GetBytes(payload, "dataEncerramentoProposta"); closing.Exists() && closing.String() != "" {
		if t, err := ParseTime(closing.String()); err == nil {
			n.ClosesAt = &t
		}
	}
	if awarded := gjson.GetBytes(payload, "valorTotalHomologado"); awarded.Exists() && awarded.Type != gjson.Null {
		v := awarded.Float()
		n.AwardedTotal = &v
	}
	return n, nil
}

// ExtractItem maps an opaque item payload to its normalized shape. The total
// is derived from quantity and unit price when the source total is absent or
// non-positive; the unit of measure is truncated to the column bound.
func ExtractItem(noticeControl string, payload []byte) NoticeItem {
	qty := gjson.GetBytes(payload, "quantidade").Float()
	unitPrice := gjson.GetBytes(payload, "valorUnitarioEstimado").Float()
	total := gjson.GetBytes(payload, "valorTotalEstimado").Float()
	if total <= 0 {
		total = qty * unitPrice
	}

	unit := truncateRunes(gjson.GetBytes(payload, "unidadeMedida").String(), unitMaxLen)

	return NoticeItem{
		NoticeControl: noticeControl,
		Number:        int(gjson.GetBytes(payload, "numeroItem").Int()),
		Description:   CleanText(gjson.GetBytes(payload, "descricao").String()),
		Quantity:      qty,
		UnitPrice:     unitPrice,
		Total:         total,
		Unit:          unit,
		Status:        gjson.GetBytes(payload, "situacaoCompraItemNome").String(),
		CategoryName:  gjson.GetBytes(payload, "materialOuServicoNome").String(),
	}
}

// truncateRunes caps s at max characters, never splitting a multibyte rune;
// the column bound is in characters and Postgres rejects broken UTF-8.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

var textCleaner = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// CleanText flattens tabs and newlines so downstream rendering stays
// well-formed.
func CleanText(s string) string {
	return strings.TrimSpace(textCleaner.Replace(s))
}

// Sequencial extracts the sequence fragment of a control number formatted as
// cnpj-1-seq/ano, e.g. "00394684000153-1-000909/2024" -> "000909".
func Sequencial(controlNumber string) string {
	head, _, _ := strings.Cut(controlNumber, "/")
	parts := strings.Split(head, "-")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
