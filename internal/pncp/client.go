// Package pncp implements the HTTP client for the public PNCP consultation API.
package pncp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

const (
	defaultListURL   = "https://pncp.gov.br/api/consulta/v1/contratacoes/atualizacao"
	defaultItemsBase = "https://pncp.gov.br/api/pncp/v1"
	defaultUserAgent = "pncp-harvester/1.0"
	defaultPageSize  = 50

	// dateParam is the wire format of dataInicial/dataFinal.
	dateParam = "20060102"
)

// Config controls the PNCP client.
type Config struct {
	ListURL   string
	ItemsBase string
	UserAgent string
	PageSize  int
	Timeout   time.Duration
}

// Client calls the two paginated PNCP endpoints.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New builds a Client, filling config gaps with the production defaults.
func New(cfg Config) *Client {
	if cfg.ListURL == "" {
		cfg.ListURL = defaultListURL
	}
	if cfg.ItemsBase == "" {
		cfg.ItemsBase = defaultItemsBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// PageSize reports the fixed page size the client requests.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

type listResponse struct {
	Data        []json.RawMessage `json:"data"`
	TotalPages  int               `json:"totalPaginas"`
	TotalCount  int               `json:"totalRegistros"`
	CurrentPage int               `json:"numeroPagina"`
}

// FetchPage requests one page of notices for a category and date range.
// HTTP 204 means the range is exhausted and yields an empty page.
func (c *Client) FetchPage(ctx context.Context, category int, from, to time.Time, page int) (harvest.Page, error) {
	q := url.Values{}
	q.Set("dataInicial", from.Format(dateParam))
	q.Set("dataFinal", to.Format(dateParam))
	q.Set("codigoModalidadeContratacao", strconv.Itoa(category))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(c.cfg.PageSize))

	body, status, err := c.get(ctx, c.cfg.ListURL+"?"+q.Encode())
	if err != nil {
		return harvest.Page{}, err
	}
	if status == http.StatusNoContent {
		return harvest.Page{}, nil
	}
	if status != http.StatusOK {
		return harvest.Page{}, fmt.Errorf("list page %d for category %d: status %d", page, category, status)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return harvest.Page{}, fmt.Errorf("decode list page %d: %w", page, err)
	}
	out := harvest.Page{TotalPages: resp.TotalPages}
	for _, rec := range resp.Data {
		out.Records = append(out.Records, []byte(rec))
	}
	return out, nil
}

// FetchItemPage requests one page of line items for a notice's business keys.
// The endpoint answers either a bare JSON array or a {"data": [...]} wrapper.
func (c *Client) FetchItemPage(ctx context.Context, cnpj string, year, seq, page int) ([][]byte, error) {
	q := url.Values{}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(c.cfg.PageSize))
	endpoint := fmt.Sprintf("%s/orgaos/%s/compras/%d/%d/itens?%s",
		c.cfg.ItemsBase, url.PathEscape(cnpj), year, seq, q.Encode())

	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("item page %d for %s/%d/%d: status %d", page, cnpj, year, seq, status)
	}

	var raw []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode item page %d: %w", page, err)
		}
	} else {
		var wrapped struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode item page %d: %w", page, err)
		}
		raw = wrapped.Data
	}

	out := make([][]byte, 0, len(raw))
	for _, rec := range raw {
		out = append(out, []byte(rec))
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("pncp request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
