package handler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// UniProt REST handlers. https://rest.uniprot.org, no credentials required.

func registerUniProt(t map[string]Func) {
	t["uniprot_search"] = uniprotSearch
	t["get_uniprot_entry"] = getUniProtEntry
	t["get_protein_features"] = getProteinFeatures
}

func uniprotSearch(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	query := strArg(args, "query")
	if organism := strArg(args, "organism"); organism != "" {
		query = fmt.Sprintf("(%s) AND (organism_name:%s)", query, organism)
	}
	if boolArg(args, "reviewed", true) {
		query = fmt.Sprintf("(%s) AND (reviewed:true)", query)
	}

	q := url.Values{
		"query":  {query},
		"format": {"json"},
		"size":   {strconv.Itoa(intArg(args, "limit", 10))},
		"fields": {"accession,id,protein_name,gene_names,organism_name,length"},
	}
	var resp struct {
		Results []map[string]any `json:"results"`
	}
	if err := h.HTTP.GetJSON(ctx, h.Opts.UniProtBaseURL+"/uniprotkb/search", q, &resp); err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   query,
		"count":   len(resp.Results),
		"results": resp.Results,
	}, nil
}

func getUniProtEntry(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	accession := strArg(args, "accession")
	var entry map[string]any
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.UniProtBaseURL+"/uniprotkb/"+url.PathEscape(accession), nil, &entry); err != nil {
		return nil, err
	}
	return map[string]any{"accession": accession, "entry": entry}, nil
}

func getProteinFeatures(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	accession := strArg(args, "accession")
	var entry struct {
		Features []map[string]any `json:"features"`
	}
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.UniProtBaseURL+"/uniprotkb/"+url.PathEscape(accession), nil, &entry); err != nil {
		return nil, err
	}

	features := entry.Features
	if want := strsArg(args, "types"); len(want) > 0 {
		wanted := make(map[string]bool, len(want))
		for _, t := range want {
			wanted[t] = true
		}
		filtered := features[:0]
		for _, f := range features {
			if t, ok := f["type"].(string); ok && wanted[t] {
				filtered = append(filtered, f)
			}
		}
		features = filtered
	}
	return map[string]any{
		"accession": accession,
		"count":     len(features),
		"features":  features,
	}, nil
}
