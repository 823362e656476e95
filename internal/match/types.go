// Package match finds normalized notices that fit a user's keyword profile
// and records what was sent so a notice is never offered to a user twice.
package match

import (
	"encoding/json"
	"strings"
	"time"
)

// Profile is a user's saved keyword/region filter.
type Profile struct {
	ConfigID         int64
	UserID           int64
	Name             string
	Keywords         string // comma-separated positive keywords
	NegativeKeywords string // comma-separated, optional
	Regions          string // JSON array of two-letter state codes
	Email            string
	FullName         string
}

// CandidateQuery carries the prepared filter sets to the candidate source.
type CandidateQuery struct {
	Positive        []string // ILIKE patterns, %kw%
	Negative        []string
	Regions         []string
	UserID          int64
	PublishedStatus string
	Now             time.Time
}

// CandidateRow is one (notice, item) pairing returned by the candidate
// source, already filtered and coarsely ranked.
type CandidateRow struct {
	ControlNumber  string
	Description    string
	Year           *int
	PublishedAt    *time.Time
	ClosesAt       *time.Time
	City           *string
	Region         *string
	BuyerName      *string
	BuyerID        *string
	EstimatedTotal *float64
	AwardedTotal   *float64
	Status         *string
	CategoryLabel  *string
	ItemID         *int64
	ItemNumber     *int
	ItemDesc       *string
	ItemCategory   *string
	ItemMatched    bool
	ObjectMatched  bool
	ItemRank       int64
}

// MatchedItem is a line item retained for a match, with the matched keywords
// highlighted in its description.
type MatchedItem struct {
	Number       int      `json:"numero_item"`
	Description  string   `json:"descricao"`
	RawDesc      string   `json:"descricao_original"`
	Category     string   `json:"categoria_item"`
	MatchedWords []string `json:"matched_keywords"`
}

// Match is one notice selected for a profile, ready for rendering.
type Match struct {
	ControlNumber  string        `json:"identificador_pncp"`
	Description    string        `json:"objeto_compra"`
	Year           int           `json:"ano_compra"`
	PublishedAt    *time.Time    `json:"data_publicacao"`
	ClosesAt       *time.Time    `json:"data_encerramento"`
	City           string        `json:"municipio_nome"`
	Region         string        `json:"uf_sigla"`
	BuyerName      string        `json:"orgao_razao_social"`
	BuyerID        string        `json:"orgao_cnpj"`
	Sequencial     string        `json:"sequencial"`
	EstimatedTotal *float64      `json:"valor_total_estimado"`
	AwardedTotal   *float64      `json:"valor_total_homologado"`
	Status         string        `json:"situacao_nome"`
	CategoryLabel  string        `json:"modalidade_nome"`
	ConfigID       int64         `json:"config_id"`
	ProfileName    string        `json:"nome_perfil"`
	Keywords       []string      `json:"matched_keywords"`
	Items          []MatchedItem `json:"matched_items"`
	ObjectMatched  bool          `json:"objeto_matched"`
}

// NotificationRecord is appended to the notification log after an attempt.
type NotificationRecord struct {
	UserID        int64
	ConfigID      int64
	ControlNumber string
	Keywords      []string
	Status        string
	ErrorMessage  string
}

// ParseKeywords splits a comma-separated keyword string, trimming blanks.
func ParseKeywords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if kw := strings.TrimSpace(part); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// ParseRegions parses a JSON array of state codes, keeping only two-letter
// entries upper-cased. Unparseable input yields nil, which callers treat as
// "match nothing".
func ParseRegions(s string) []string {
	if s == "" {
		return nil
	}
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	var out []string
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		str = strings.ToUpper(strings.TrimSpace(str))
		if len(str) == 2 {
			out = append(out, str)
		}
	}
	return out
}
