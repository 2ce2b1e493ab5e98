package handler

import (
	"context"
	"net/url"
	"strings"
)

// KEGG REST handlers. KEGG answers tab-separated plain text; records are
// parsed into small maps here so every handler stays JSON-out.

func registerKEGG(t map[string]Func) {
	t["kegg_pathway_search"] = keggPathwaySearch
	t["kegg_get_pathway"] = keggGetPathway
	t["kegg_find_gene"] = keggFindGene
	t["kegg_link_pathways"] = keggLinkPathways
}

// parseKEGGList turns "id\tdescription" lines into entry maps.
func parseKEGGList(raw []byte) []map[string]any {
	var entries []map[string]any
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, desc, _ := strings.Cut(line, "\t")
		entries = append(entries, map[string]any{"id": id, "description": desc})
	}
	return entries
}

func keggPathwaySearch(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	query := strArg(args, "query")
	raw, err := h.HTTP.Do(ctx, Request{URL: h.Opts.KEGGBaseURL + "/find/pathway/" + url.PathEscape(query)})
	if err != nil {
		return nil, err
	}
	entries := parseKEGGList(raw)
	return map[string]any{"query": query, "count": len(entries), "pathways": entries}, nil
}

func keggGetPathway(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	pathwayID := strArg(args, "pathway_id")
	raw, err := h.HTTP.Do(ctx, Request{URL: h.Opts.KEGGBaseURL + "/get/" + url.PathEscape(pathwayID)})
	if err != nil {
		return nil, err
	}

	// Flat-file record: uppercase field tag in the first 12 columns,
	// continuation lines keep the previous tag.
	record := map[string]any{}
	field := ""
	var values []string
	flush := func() {
		if field != "" {
			record[strings.ToLower(field)] = strings.Join(values, "\n")
		}
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "///" {
			break
		}
		if len(line) > 12 && strings.TrimSpace(line[:12]) != "" {
			flush()
			field = strings.TrimSpace(line[:12])
			values = values[:0]
		}
		if len(line) > 12 {
			values = append(values, strings.TrimSpace(line[12:]))
		}
	}
	flush()
	return map[string]any{"pathway_id": pathwayID, "record": record}, nil
}

func keggFindGene(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	query := strArg(args, "query")
	organism := strArg(args, "organism")
	if organism == "" {
		organism = "hsa"
	}
	raw, err := h.HTTP.Do(ctx, Request{
		URL: h.Opts.KEGGBaseURL + "/find/" + url.PathEscape(organism) + "/" + url.PathEscape(query),
	})
	if err != nil {
		return nil, err
	}
	entries := parseKEGGList(raw)
	return map[string]any{"query": query, "organism": organism, "count": len(entries), "genes": entries}, nil
}

func keggLinkPathways(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	geneID := strArg(args, "gene_id")
	raw, err := h.HTTP.Do(ctx, Request{URL: h.Opts.KEGGBaseURL + "/link/pathway/" + url.PathEscape(geneID)})
	if err != nil {
		return nil, err
	}

	var pathways []string
	for _, e := range parseKEGGList(raw) {
		// link lines are "gene\tpath:hsa04110"
		if desc, ok := e["description"].(string); ok && desc != "" {
			pathways = append(pathways, strings.TrimPrefix(desc, "path:"))
		}
	}
	return map[string]any{"gene_id": geneID, "count": len(pathways), "pathways": pathways}, nil
}
