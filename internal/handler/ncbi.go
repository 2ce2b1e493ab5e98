package handler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NCBI Entrez E-utilities handlers. An API key raises the allowed request
// rate; without one the shared client's limiter is dropped to 3 req/s for
// the eutils host (done at startup in cmd/gbridge).

func registerNCBI(t map[string]Func) {
	t["ncbi_search"] = ncbiSearch
	t["ncbi_fetch"] = ncbiFetch
	t["get_gene_info"] = getGeneInfo
	t["get_dbsnp_variant"] = getDBSNPVariant
	t["search_clinvar"] = searchClinVar
}

func (h *Ctx) eutilsQuery() url.Values {
	q := url.Values{"retmode": {"json"}, "tool": {"genome-bridge"}}
	if h.Opts.NCBIAPIKey != "" {
		q.Set("api_key", h.Opts.NCBIAPIKey)
	}
	return q
}

type esearchResult struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (h *Ctx) esearch(ctx context.Context, db, term string, limit int) (*esearchResult, error) {
	q := h.eutilsQuery()
	q.Set("db", db)
	q.Set("term", term)
	q.Set("retmax", strconv.Itoa(limit))
	var resp esearchResult
	if err := h.HTTP.GetJSON(ctx, h.Opts.NCBIBaseURL+"/esearch.fcgi", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *Ctx) esummary(ctx context.Context, db string, ids []string) (map[string]any, error) {
	q := h.eutilsQuery()
	q.Set("db", db)
	q.Set("id", strings.Join(ids, ","))
	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := h.HTTP.GetJSON(ctx, h.Opts.NCBIBaseURL+"/esummary.fcgi", q, &resp); err != nil {
		return nil, err
	}
	delete(resp.Result, "uids")
	return resp.Result, nil
}

func ncbiSearch(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	db := strArg(args, "database")
	if db == "" {
		db = "gene"
	}
	term := strArg(args, "term")
	limit := intArg(args, "limit", 10)

	search, err := h.esearch(ctx, db, term, limit)
	if err != nil {
		return nil, err
	}
	result := map[string]any{
		"database": db,
		"term":     term,
		"total":    search.ESearchResult.Count,
		"ids":      search.ESearchResult.IDList,
	}
	if len(search.ESearchResult.IDList) > 0 {
		if summaries, err := h.esummary(ctx, db, search.ESearchResult.IDList); err == nil {
			result["summaries"] = summaries
		}
	}
	return result, nil
}

func ncbiFetch(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	db := strArg(args, "database")
	if db == "" {
		db = "gene"
	}
	var ids []string
	for _, v := range arrArg(args, "ids") {
		switch id := v.(type) {
		case string:
			ids = append(ids, id)
		case float64:
			ids = append(ids, strconv.FormatInt(int64(id), 10))
		}
	}
	summaries, err := h.esummary(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	return map[string]any{"database": db, "records": summaries}, nil
}

func getGeneInfo(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	gene := strArg(args, "gene")
	organism := strArg(args, "organism")
	if organism == "" {
		organism = "Homo sapiens"
	}
	term := fmt.Sprintf("%s[Gene Name] AND %s[Organism]", gene, organism)

	search, err := h.esearch(ctx, "gene", term, 1)
	if err != nil {
		return nil, err
	}
	if len(search.ESearchResult.IDList) == 0 {
		return map[string]any{"gene": gene, "organism": organism, "found": false}, nil
	}
	id := search.ESearchResult.IDList[0]
	summaries, err := h.esummary(ctx, "gene", []string{id})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"gene":     gene,
		"organism": organism,
		"found":    true,
		"gene_id":  id,
		"summary":  summaries[id],
	}, nil
}

func getDBSNPVariant(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	rsid := strings.TrimPrefix(strings.ToLower(strArg(args, "rsid")), "rs")
	summaries, err := h.esummary(ctx, "snp", []string{rsid})
	if err != nil {
		return nil, err
	}
	return map[string]any{"rsid": "rs" + rsid, "record": summaries[rsid]}, nil
}

func searchClinVar(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	term := strArg(args, "term")
	limit := intArg(args, "limit", 10)

	search, err := h.esearch(ctx, "clinvar", term, limit)
	if err != nil {
		return nil, err
	}
	result := map[string]any{
		"term":  term,
		"total": search.ESearchResult.Count,
		"ids":   search.ESearchResult.IDList,
	}
	if len(search.ESearchResult.IDList) > 0 {
		if summaries, err := h.esummary(ctx, "clinvar", search.ESearchResult.IDList); err == nil {
			result["summaries"] = summaries
		}
	}
	return result, nil
}
